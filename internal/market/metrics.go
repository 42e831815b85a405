package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "market",
		Name:      "ticks_received_total",
		Help:      "Ticker prices received over websocket",
	})

	WSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "market",
		Name:      "ws_connected",
		Help:      "1 if the ticker websocket is connected",
	})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "market",
		Name:      "ws_disconnects_total",
		Help:      "Ticker websocket disconnects",
	})

	CandlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "market",
		Name:      "candles_ingested_total",
		Help:      "Closed candles delivered to the engine",
	})

	CandlePollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "market",
		Name:      "candle_poll_errors_total",
		Help:      "Failed candle polls",
	})
)
