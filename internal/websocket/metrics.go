package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "ws",
		Name:      "connected_clients",
		Help:      "Number of connected status stream clients",
	})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Broadcast messages dropped because the hub queue was full",
	})
)
