package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/viper"

	"tradebot/pkg/utils"
)

var configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradebot",
	Subsystem: "config",
	Name:      "reloads_total",
	Help:      "Configuration reloads by result",
}, []string{"result"})

// ChangeFunc вызывается после применения новой валидной конфигурации
type ChangeFunc func(prev, next *Config)

// Watcher хранит действующую конфигурацию и перечитывает её
//
// Источники перезагрузки:
// - явный вызов Reload (POST /api/v1/config/reload)
// - изменение YAML файла (WatchFile)
//
// Невалидная конфигурация отклоняется, действующая остаётся.
// Подписчики получают только валидные конфигурации, по порядку.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	subs    []ChangeFunc

	// reloadMu сериализует перезагрузки
	reloadMu sync.Mutex
	load     func() (*Config, error)

	logger *utils.Logger
}

// NewWatcher создаёт Watcher. load - источник новой конфигурации (обычно Load).
func NewWatcher(initial *Config, load func() (*Config, error)) *Watcher {
	if load == nil {
		load = Load
	}
	return &Watcher{
		current: initial,
		load:    load,
		logger:  utils.L().WithComponent("config"),
	}
}

// Current возвращает действующую конфигурацию
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange добавляет подписчика
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Reload перечитывает конфигурацию. Ошибка загрузки или валидации
// возвращается вызывающему, действующая конфигурация не меняется.
func (w *Watcher) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.load()
	if err != nil {
		configReloads.WithLabelValues("rejected").Inc()
		w.logger.Warn("configuration reload rejected, keeping previous", utils.Err(err))
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	subs := append([]ChangeFunc(nil), w.subs...)
	w.mu.Unlock()

	configReloads.WithLabelValues("applied").Inc()
	w.logger.Info("configuration reloaded", utils.Any("config", next.Redacted()))

	for _, fn := range subs {
		fn(prev, next)
	}
	return nil
}

// WatchFile перезагружает конфигурацию при изменении YAML файла.
// Без файла ничего не делает. Возвращается после отмены ctx.
func (w *Watcher) WatchFile(ctx context.Context) {
	path := w.Current().File
	if path == "" {
		return
	}

	events := make(chan struct{}, 1)
	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		select {
		case events <- struct{}{}:
		default:
		}
	})
	v.WatchConfig()
	w.logger.Info("watching configuration file", utils.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			// редакторы пишут файл в несколько приёмов
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}

			reloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = w.Reload(reloadCtx)
			cancel()
		}
	}
}
