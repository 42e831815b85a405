package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradebot",
			Subsystem: "audit",
			Name:      "events_written_total",
			Help:      "Audit events persisted by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "audit",
		Name:      "events_dropped_total",
		Help:      "Audit events that reached only the log",
	})
)
