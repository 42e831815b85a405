package strategy

import (
	"sync"

	"tradebot/internal/models"
)

// Evaluator - стратегия как чистая функция окна свечей в сигнал
//
// Реализация не хранит состояния кроме параметров: одинаковое окно даёт одинаковый сигнал.
// Последняя свеча окна считается текущей.
type Evaluator interface {
	Evaluate(window []models.Candle) models.Signal
}

// Window - скользящее окно свечей фиксированной длины
//
// Только добавление, при переполнении вытесняется самая старая свеча.
// Свечи с CloseTime не новее последней отбрасываются (дубликаты и опоздавшие).
type Window struct {
	mu      sync.RWMutex
	size    int
	candles []models.Candle
}

// NewWindow создаёт окно длины size (минимум 2)
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{
		size:    size,
		candles: make([]models.Candle, 0, size),
	}
}

// Push добавляет закрытую свечу. Возвращает false если свеча отброшена.
func (w *Window) Push(c models.Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.candles); n > 0 && !c.CloseTime.After(w.candles[n-1].CloseTime) {
		return false
	}

	if len(w.candles) == w.size {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.size-1]
	}
	w.candles = append(w.candles, c)
	return true
}

// Candles возвращает копию окна от старой к новой
func (w *Window) Candles() []models.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Last возвращает последнюю свечу
func (w *Window) Last() (models.Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.candles) == 0 {
		return models.Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Len текущее количество свечей
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Size ёмкость окна
func (w *Window) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Full true когда окно заполнено
func (w *Window) Full() bool {
	return w.Len() == w.Size()
}

// Resize меняет длину окна, сохраняя самые новые свечи
func (w *Window) Resize(size int) {
	if size < 2 {
		size = 2
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if size == w.size {
		return
	}
	keep := w.candles
	if len(keep) > size {
		keep = keep[len(keep)-size:]
	}
	candles := make([]models.Candle, len(keep), size)
	copy(candles, keep)
	w.candles = candles
	w.size = size
}
