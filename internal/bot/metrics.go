package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Экспортируются на /metrics (promhttp в internal/api).

// ============ Циклы ============

// CyclesTotal - завершённые циклы по итогу
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of trading cycles by outcome",
	},
	[]string{"outcome", "trigger"},
)

// CycleDuration - длительность цикла от сигнала до записи аудита
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Trading cycle duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	},
)

// EngineState - текущее состояние оркестратора (1 у активного состояния)
var EngineState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "state",
		Help:      "Current orchestrator state (1 for the active state)",
	},
	[]string{"state"},
)

// Halted - 1 если бот остановлен
var Halted = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "halted",
		Help:      "1 if the bot is halted",
	},
)

// ============ Риск ============

// RiskDecisions - решения риск-контроля по виду и правилу
var RiskDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk decisions by kind and matched rule",
	},
	[]string{"kind", "rule"},
)

// ============ Ордера ============

// OrdersTotal - ордера по финальному статусу
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "orders",
		Name:      "finished_total",
		Help:      "Orders by terminal status",
	},
	[]string{"status"},
)

// OrderAckLatency - время подтверждения размещения
var OrderAckLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradebot",
		Subsystem: "orders",
		Name:      "ack_latency_ms",
		Help:      "Time to acknowledge order placement in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
)

// ReconcileRetries - повторы опроса статуса
var ReconcileRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "orders",
		Name:      "reconcile_retries_total",
		Help:      "Order status check retries after transient errors",
	},
)

// ============ Портфель ============

// PositionQuantity - количество базовой валюты со знаком
var PositionQuantity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "position_quantity",
		Help:      "Signed position quantity in base currency",
	},
)

// Equity - кэш плюс позиция по текущей цене
var Equity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "equity",
		Help:      "Portfolio equity in quote currency",
	},
)

// RealizedPnL - реализованный PnL с момента старта
var RealizedPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "realized_pnl",
		Help:      "Realized PnL in quote currency since start",
	},
)

// ============ Очереди ============

// AuditQueueDepth - записи аудита, ожидающие записи
var AuditQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "audit",
		Name:      "queue_depth",
		Help:      "Audit events waiting to be written",
	},
)

// BufferOverflows - переполнения буферов каналов (события отброшены)
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // notification, candle
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "buffer_backlog_ratio",
		Help:      "Buffer fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordCycle записывает итог цикла
func RecordCycle(outcome, trigger string, seconds float64) {
	CyclesTotal.WithLabelValues(outcome, trigger).Inc()
	CycleDuration.Observe(seconds)
}

// RecordDecision записывает решение риск-контроля
func RecordDecision(kind, rule string) {
	RiskDecisions.WithLabelValues(kind, rule).Inc()
}

// RecordState отмечает активное состояние оркестратора
func RecordState(state EngineStatus) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		EngineState.WithLabelValues(string(s)).Set(v)
	}
	if state == StateHalted {
		Halted.Set(1)
	} else {
		Halted.Set(0)
	}
}

// RecordPortfolio обновляет метрики портфеля
func RecordPortfolio(quantity, equity, realized decimal.Decimal) {
	PositionQuantity.Set(quantity.InexactFloat64())
	Equity.Set(equity.InexactFloat64())
	RealizedPnL.Set(realized.InexactFloat64())
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}
