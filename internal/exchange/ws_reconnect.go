package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradebot/pkg/utils"
)

// ErrWSClosed менеджер уже закрыт
var ErrWSClosed = errors.New("websocket manager is closed")

// WSReconnectConfig настройки переподключения
type WSReconnectConfig struct {
	InitialDelay   time.Duration // первая задержка перед переподключением
	MaxDelay       time.Duration // потолок exponential backoff
	MaxRetries     int           // 0 = без ограничения
	ConnectTimeout time.Duration // таймаут handshake
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultWSReconnectConfig 2s -> 4s -> 8s -> 16s, без лимита попыток
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// WSConnectionState состояние соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager держит одно WebSocket соединение и восстанавливает его
//
// После каждого переподключения заново отправляет сохранённые подписки.
// Чтение, ping и переподключение выполняет одна горутина run.
type WSReconnectManager struct {
	name   string
	wsURL  string
	config WSReconnectConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	subscriptions [][]byte
	subsMu        sync.RWMutex

	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	logger *utils.Logger
}

// NewWSReconnectManager создаёт менеджер. Нулевые поля config заполняются значениями по умолчанию.
func NewWSReconnectManager(name, wsURL string, config WSReconnectConfig) *WSReconnectManager {
	def := DefaultWSReconnectConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}

	return &WSReconnectManager{
		name:      name,
		wsURL:     wsURL,
		config:    config,
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
		logger:    utils.L().WithComponent("ws").With(utils.String("stream", name)),
	}
}

// SetOnMessage обработчик входящих сообщений. Вызывается из горутины чтения.
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect вызывается после каждого успешного (пере)подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect вызывается при разрыве соединения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// AddSubscription сохраняет сообщение подписки для повторной отправки
func (m *WSReconnectManager) AddSubscription(sub interface{}) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	m.subsMu.Lock()
	m.subscriptions = append(m.subscriptions, data)
	m.subsMu.Unlock()

	// при активном соединении подписываемся сразу
	if m.IsConnected() {
		return m.write(data)
	}
	return nil
}

// GetState текущее состояние
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected соединение установлено
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// GetRetryCount число попыток с момента последнего успешного подключения
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

func (m *WSReconnectManager) setState(s WSConnectionState) {
	atomic.StoreInt32(&m.state, int32(s))
}

// Start выполняет первое подключение и запускает цикл чтения с переподключением.
// Ошибка первого подключения возвращается вызывающему.
func (m *WSReconnectManager) Start(ctx context.Context) error {
	select {
	case <-m.closeChan:
		return ErrWSClosed
	default:
	}

	m.setState(WSStateConnecting)
	conn, err := m.dial(ctx)
	if err != nil {
		m.setState(WSStateDisconnected)
		return err
	}
	m.connected(conn)

	go m.run(ctx, conn)
	return nil
}

// Done закрывается, когда цикл чтения завершился окончательно
func (m *WSReconnectManager) Done() <-chan struct{} {
	return m.done
}

func (m *WSReconnectManager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, m.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.wsURL, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.config.PingInterval + m.config.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(m.config.PingInterval + m.config.PongTimeout))

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(); err != nil {
		m.dropConn()
		return nil, err
	}
	return conn, nil
}

func (m *WSReconnectManager) connected(conn *websocket.Conn) {
	m.setState(WSStateConnected)
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}
	m.logger.Info("websocket connected", utils.String("url", m.wsURL))
}

// resubscribe отправляет все сохранённые подписки
func (m *WSReconnectManager) resubscribe() error {
	m.subsMu.RLock()
	subs := make([][]byte, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subsMu.RUnlock()

	for _, sub := range subs {
		if err := m.write(sub); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}
	if len(subs) > 0 {
		m.logger.Debug("resubscribed", utils.Int("subscriptions", len(subs)))
	}
	return nil
}

func (m *WSReconnectManager) write(data []byte) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return errors.New("no connection")
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *WSReconnectManager) dropConn() {
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()
}

// run читает соединение до разрыва, затем переподключается с backoff
func (m *WSReconnectManager) run(ctx context.Context, conn *websocket.Conn) {
	defer close(m.done)

	for {
		err := m.readLoop(ctx, conn)
		m.dropConn()

		if m.stopped(ctx) {
			m.setState(WSStateClosed)
			return
		}

		m.setState(WSStateReconnecting)
		m.callbackMu.RLock()
		onDisconnect := m.onDisconnect
		m.callbackMu.RUnlock()
		if onDisconnect != nil {
			onDisconnect(err)
		}
		m.logger.Warn("websocket disconnected", utils.Err(err))

		conn = m.reconnect(ctx)
		if conn == nil {
			return
		}
		m.connected(conn)
	}
}

func (m *WSReconnectManager) stopped(ctx context.Context) bool {
	select {
	case <-m.closeChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// readLoop читает сообщения и шлёт ping, пока соединение живо
func (m *WSReconnectManager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(conn, stopPing)

	// закрытие соединения прерывает блокирующий ReadMessage
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-m.closeChan:
			conn.Close()
		case <-stopPing:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (m *WSReconnectManager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.config.PongTimeout))
			m.connMu.Unlock()
			if err != nil {
				m.logger.Debug("ping failed", utils.Err(err))
				conn.Close()
				return
			}
		}
	}
}

// reconnect пытается подключиться с exponential backoff.
// nil означает остановку: закрытие, отмена контекста или исчерпание попыток.
func (m *WSReconnectManager) reconnect(ctx context.Context) *websocket.Conn {
	delay := m.config.InitialDelay

	for {
		retry := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(retry) > m.config.MaxRetries {
			m.logger.Error("max reconnect attempts reached", utils.Int("max_retries", m.config.MaxRetries))
			m.setState(WSStateDisconnected)
			return nil
		}

		m.logger.Info("reconnecting",
			utils.Duration("delay", delay),
			utils.Int("attempt", int(retry)),
		)

		timer := time.NewTimer(delay)
		select {
		case <-m.closeChan:
			timer.Stop()
			m.setState(WSStateClosed)
			return nil
		case <-ctx.Done():
			timer.Stop()
			m.setState(WSStateClosed)
			return nil
		case <-timer.C:
		}

		conn, err := m.dial(ctx)
		if err == nil {
			return conn
		}
		m.logger.Warn("reconnect failed", utils.Err(err))

		delay *= 2
		if delay > m.config.MaxDelay {
			delay = m.config.MaxDelay
		}
	}
}

// Close закрывает соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeChan)
	})
	m.setState(WSStateClosed)

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
