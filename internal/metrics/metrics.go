package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campuschat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted by the chat service.",
	})

	ReceiptsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campuschat",
		Name:      "read_receipts_recorded_total",
		Help:      "Read receipts newly inserted. Repeated mark-read calls are not counted.",
	})

	ReactionsToggled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campuschat",
		Name:      "reactions_toggled_total",
		Help:      "Reaction toggles by resulting state.",
	}, []string{"state"})

	TypingRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campuschat",
		Name:      "typing_events_relayed_total",
		Help:      "Typing frames accepted from websocket clients.",
	})

	NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "campuschat",
		Name:      "notifications_dropped_total",
		Help:      "Change or typing notifications that could not be published.",
	})

	LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "campuschat",
		Name:      "websocket_connections",
		Help:      "Websocket clients currently registered with the hub.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		ReceiptsRecorded,
		ReactionsToggled,
		TypingRelayed,
		NotificationsDropped,
		LiveConnections,
	)
}
