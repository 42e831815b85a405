package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sync.Pool для JSON буферов: без аллокаций на каждый Broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам.
// Клиенты мониторинга получают состояние бота без polling /status.
//
// Типы сообщений:
// - status: смена состояния, итог цикла, периодический снимок
// - order: каждое изменение ордера
// - notification: события торговли
//
// Новый клиент сразу получает последний снимок status.
//
// Broadcast не блокирует вызывающего (торговый цикл):
// при переполненном канале сообщение отбрасывается и учитывается в DroppedMessages.
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastStatus(status)
// 4. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex

	// последний status для новых клиентов
	lastStatus atomic.Pointer[[]byte]

	dropped atomic.Int64
	origins atomic.Pointer[OriginChecker]
	logger  *utils.Logger
}

// NewHub создает новый Hub
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     utils.L().WithComponent("ws_hub"),
	}
	h.origins.Store(NewOriginChecker(nil))
	return h
}

// SetAllowedOrigins ограничивает Origin браузерных клиентов. Пустой список - все разрешены.
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.origins.Store(NewOriginChecker(origins))
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Копируем список клиентов под RLock, отправляем без блокировки,
// медленных клиентов удаляем под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			if last := h.lastStatus.Load(); last != nil {
				select {
				case client.send <- *last:
				default:
				}
			}
			ConnectedClients.Set(float64(total))
			h.logger.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			ConnectedClients.Set(float64(total))
			h.logger.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				ConnectedClients.Set(float64(total))
				h.logger.Warn("removed slow clients",
					utils.Int("removed", len(toRemove)),
					utils.Int("clients", total),
				)
			}
		}
	}
}

// Stop останавливает Run и закрывает всех клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	ConnectedClients.Set(0)
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, ok := h.encode(message)
	if !ok {
		return
	}
	h.enqueue(data)
}

func (h *Hub) encode(message interface{}) ([]byte, bool) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return nil, false
	}

	// Encode добавляет перевод строки
	data := bytes.TrimRight(buf.Bytes(), "\n")

	// буфер вернётся в пул
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (h *Hub) enqueue(data []byte) {
	select {
	case <-h.stop:
		return
	default:
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		DroppedMessages.Inc()
	}
}

// BroadcastStatus отправляет снимок состояния и запоминает его для новых клиентов
func (h *Hub) BroadcastStatus(status *models.BotStatus) {
	if status == nil {
		return
	}
	data, ok := h.encode(NewStatusMessage(status))
	if !ok {
		return
	}
	h.lastStatus.Store(&data)
	h.enqueue(data)
}

// BroadcastOrder отправляет изменение ордера
func (h *Hub) BroadcastOrder(order *models.Order) {
	if order == nil {
		return
	}
	h.Broadcast(NewOrderMessage(order))
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	if notif == nil {
		return
	}
	h.Broadcast(NewNotificationMessage(notif))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - число сообщений, отброшенных из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
