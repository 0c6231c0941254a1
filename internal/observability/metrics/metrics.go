package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Total number of realtime events handled, by event name and outcome.",
		},
		[]string{"service", "event", "status"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Currently open device channels.",
		},
		[]string{"service"},
	)

	WriteQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "write_queue_depth",
			Help: "Tasks waiting in the write serialization queue.",
		},
		[]string{"service"},
	)

	WriteTaskDurationSeconds prometheus.ObserverVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "write_task_duration_seconds",
			Help:    "Duration of serialized write tasks.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "label"},
	)

	ItemsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_delivered_total",
			Help: "Direct items pushed to a live device channel.",
		},
		[]string{"service"},
	)

	GroupItemsBroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_items_broadcast_total",
			Help: "Group items fanned out to member devices.",
		},
		[]string{"service"},
	)

	FileShareMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_share_mutations_total",
			Help: "File share mutations, by result.",
		},
		[]string{"service", "result"},
	)

	PendingEventsQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_events_queued_total",
			Help: "Events buffered for sessions that were not yet ready.",
		},
		[]string{"service"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}

	EventsTotal = EventsTotal.MustCurryWith(labels)
	ConnectionsActive = ConnectionsActive.MustCurryWith(labels)
	WriteQueueDepth = WriteQueueDepth.MustCurryWith(labels)
	WriteTaskDurationSeconds = WriteTaskDurationSeconds.MustCurryWith(labels)
	ItemsDeliveredTotal = ItemsDeliveredTotal.MustCurryWith(labels)
	GroupItemsBroadcastTotal = GroupItemsBroadcastTotal.MustCurryWith(labels)
	FileShareMutationsTotal = FileShareMutationsTotal.MustCurryWith(labels)
	PendingEventsQueuedTotal = PendingEventsQueuedTotal.MustCurryWith(labels)

	prometheus.MustRegister(
		EventsTotal,
		ConnectionsActive,
		WriteQueueDepth,
		WriteTaskDurationSeconds,
		ItemsDeliveredTotal,
		GroupItemsBroadcastTotal,
		FileShareMutationsTotal,
		PendingEventsQueuedTotal,
	)
}
