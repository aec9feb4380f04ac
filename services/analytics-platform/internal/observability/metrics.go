package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	scheduleQueueOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analytics_platform",
		Subsystem: "gateway",
		Name:      "schedule_queue_overflows_total",
		Help:      "Schedule submissions rejected because the queue stayed full past the offer timeout.",
	})
	projectedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analytics_platform",
		Subsystem: "relay",
		Name:      "projected_events_total",
		Help:      "Outbox events successfully folded into funnel facts.",
	})
	projectionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analytics_platform",
		Subsystem: "relay",
		Name:      "projection_failures_total",
		Help:      "Outbox events skipped after a decode or apply failure.",
	})
	exportedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "analytics_platform",
		Subsystem: "relay",
		Name:      "exported_events_total",
		Help:      "Outbox events mirrored to Kafka.",
	})
	sseSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "analytics_platform",
		Subsystem: "dashboard",
		Name:      "sse_subscriptions",
		Help:      "Active SSE dashboard subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(
		scheduleQueueOverflows,
		projectedEvents,
		projectionFailures,
		exportedEvents,
		sseSubscriptions,
	)
}

// RegisterQueueDepth exposes the live schedule queue depth as a gauge.
func RegisterQueueDepth(depth func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "analytics_platform",
		Subsystem: "gateway",
		Name:      "schedule_queue_depth",
		Help:      "Commands currently waiting in the schedule queue.",
	}, depth))
}

func RecordQueueOverflow() { scheduleQueueOverflows.Inc() }

func RecordProjectedEvents(n int) { projectedEvents.Add(float64(n)) }

func RecordProjectionFailure() { projectionFailures.Inc() }

func RecordExportedEvents(n int) { exportedEvents.Add(float64(n)) }

func RecordSubscriptionCount(n int) { sseSubscriptions.Set(float64(n)) }
