package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "betsweb",
		Subsystem: "notify",
		Name:      "connected_clients",
		Help:      "Currently registered websocket connections.",
	})

	metricChatRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "notify",
		Name:      "chat_relayed_total",
		Help:      "Direct chat messages relayed to their addressee.",
	})

	metricBroadcastDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "notify",
		Name:      "broadcast_delivered_total",
		Help:      "Broadcast notifications queued to clients.",
	})

	metricFramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "betsweb",
		Subsystem: "notify",
		Name:      "frames_rejected_total",
		Help:      "Inbound frames rejected by reason.",
	}, []string{"reason"})
)
