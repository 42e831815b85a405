// Package audit - журнал аудита торговых циклов (только добавление).
//
// Записи пишутся одной горутиной в порядке Append: signal -> decision -> outcome.
// Ошибки хранилища повторяются с backoff; после исчерпания попыток запись
// уходит в лог целиком, чтобы её можно было восстановить вручную.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradebot/internal/models"
	"tradebot/pkg/retry"
	"tradebot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrWriterClosed запись после Close
var ErrWriterClosed = errors.New("audit writer is closed")

// Store - хранилище журнала (repository.AuditRepository)
type Store interface {
	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// Config настройки Writer
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration // таймаут одной попытки записи
	Retry        retry.Config
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
		Retry: retry.Config{
			MaxRetries:   5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
}

// item - событие или маркер Flush
type item struct {
	event   *models.AuditEvent
	flushed chan struct{}
}

// Writer упорядоченная очередь записей аудита с одним писателем
type Writer struct {
	store Store
	cfg   Config

	queue   chan item
	seq     atomic.Uint64
	pending atomic.Int64

	closeMu sync.RWMutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *utils.Logger
}

// NewWriter создаёт и запускает Writer. Без store записи только логируются.
func NewWriter(store Store, cfg Config) *Writer {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = retry.RetryIfNotContext
	}

	logger := utils.L().WithComponent("audit")
	if store == nil {
		store = &LogStore{logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:  store,
		cfg:    cfg,
		queue:  make(chan item, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// Append ставит запись в очередь. Ждёт места в очереди не дольше ctx.
func (w *Writer) Append(ctx context.Context, cycleID int64, kind models.AuditKind, payload interface{}, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	event := &models.AuditEvent{
		Seq:       w.seq.Add(1),
		CycleID:   cycleID,
		Kind:      kind,
		Payload:   data,
		Timestamp: at,
	}

	w.pending.Add(1)
	select {
	case w.queue <- item{event: event}:
		return nil
	case <-ctx.Done():
		w.pending.Add(-1)
		EventsDropped.Inc()
		w.logger.Error("audit queue full, event logged only",
			utils.CycleID(cycleID),
			utils.String("kind", string(kind)),
			utils.String("payload", string(data)),
		)
		return fmt.Errorf("enqueue %s: %w", kind, ctx.Err())
	}
}

// Flush ждёт записи всех событий, поставленных до вызова
func (w *Writer) Flush(ctx context.Context) error {
	w.closeMu.RLock()
	if w.closed {
		w.closeMu.RUnlock()
		return ErrWriterClosed
	}
	marker := item{flushed: make(chan struct{})}
	select {
	case w.queue <- marker:
	case <-ctx.Done():
		w.closeMu.RUnlock()
		return ctx.Err()
	}
	w.closeMu.RUnlock()

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending число записей, ещё не переданных в хранилище
func (w *Writer) Pending() int {
	return int(w.pending.Load())
}

// Close прекращает приём записей и дописывает очередь.
// Если ctx истёк раньше, оставшиеся записи уходят в лог.
func (w *Writer) Close(ctx context.Context) error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.queue)
	w.closeMu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	defer w.cancel()

	for it := range w.queue {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		w.write(it.event)
		w.pending.Add(-1)
	}
}

func (w *Writer) write(event *models.AuditEvent) {
	err := retry.Do(w.ctx, func() error {
		ctx, cancel := context.WithTimeout(w.ctx, w.cfg.WriteTimeout)
		defer cancel()
		return w.store.InsertAuditEvent(ctx, event)
	}, w.cfg.Retry)

	if err != nil {
		EventsDropped.Inc()
		w.logger.Error("audit event not persisted",
			utils.CycleID(event.CycleID),
			utils.String("kind", string(event.Kind)),
			utils.Int64("seq", int64(event.Seq)),
			utils.String("payload", string(event.Payload)),
			utils.Err(err),
		)
		return
	}
	EventsWritten.WithLabelValues(string(event.Kind)).Inc()
}

// LogStore пишет записи аудита в лог (режим без БД)
type LogStore struct {
	logger *utils.Logger
}

// NewLogStore создаёт LogStore
func NewLogStore() *LogStore {
	return &LogStore{logger: utils.L().WithComponent("audit")}
}

// InsertAuditEvent логирует запись
func (s *LogStore) InsertAuditEvent(_ context.Context, event *models.AuditEvent) error {
	s.logger.Info("audit",
		utils.CycleID(event.CycleID),
		utils.String("kind", string(event.Kind)),
		utils.Int64("seq", int64(event.Seq)),
		utils.Time("timestamp", event.Timestamp),
		utils.String("payload", string(event.Payload)),
	)
	return nil
}
