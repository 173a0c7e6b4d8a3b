package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixgate_redemptions_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	redemptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tixgate_redemption_duration_seconds",
			Help:    "Time spent deciding a redemption",
			Buckets: prometheus.DefBuckets,
		},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixgate_deliveries_total",
			Help: "Email delivery jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	deliveryQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tixgate_delivery_queue_length",
			Help: "Delivery jobs waiting for a worker",
		},
	)

	droppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixgate_events_dropped_total",
			Help: "Ticket events discarded because the publish queue was full",
		},
		[]string{"type"},
	)

	syncedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tixgate_intake_rows_imported_total",
			Help: "Spreadsheet rows imported as purchase requests",
		},
	)
)

func ObserveRedemption(outcome string, d time.Duration) {
	redemptions.WithLabelValues(outcome).Inc()
	redemptionDuration.Observe(d.Seconds())
}

func RateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

func Delivery(kind string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	deliveries.WithLabelValues(kind, status).Inc()
}

func SetDeliveryQueue(n int) {
	deliveryQueue.Set(float64(n))
}

func EventDropped(typ string) {
	droppedEvents.WithLabelValues(typ).Inc()
}

func RowsImported(n int64) {
	syncedRows.Add(float64(n))
}
