package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "session",
		Name:      "acquired_total",
		Help:      "Session slots successfully acquired.",
	})

	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "session",
		Name:      "rejected_total",
		Help:      "Acquire attempts rejected by the session cap.",
	})

	metricForcedLogouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "session",
		Name:      "forced_logouts_total",
		Help:      "Administrative force-logout operations completed.",
	})

	metricReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "session",
		Name:      "reconciled_total",
		Help:      "Stale sessions removed by reconciliation.",
	})
)
