package observability

import (
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/internal/escrow"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tutorbook"

// Metrics implements outbox.Metrics and escrow.Metrics.
type Metrics struct {
	outboxDeliveries   *prometheus.CounterVec
	outboxCycleSeconds prometheus.Histogram
	outboxLastDue      prometheus.Gauge
	escrowItems        *prometheus.CounterVec
	escrowRunSeconds   prometheus.Histogram
}

// NewMetrics registers the collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		outboxDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "outbox",
				Name:      "deliveries_total",
				Help:      "Outbox entries processed, by template and outcome.",
			},
			[]string{"template", "outcome"},
		),
		outboxCycleSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "outbox",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one outbox poll cycle.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		outboxLastDue: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "outbox",
				Name:      "last_cycle_due",
				Help:      "Entries that were due in the most recent poll cycle.",
			},
		),
		escrowItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "items_total",
				Help:      "Bookings handled by the escrow scheduler, by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		escrowRunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "escrow",
				Name:      "run_duration_seconds",
				Help:      "Duration of one escrow scheduler run.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

func (metrics *Metrics) ObserveDelivery(template string, outcome string) {
	metrics.outboxDeliveries.WithLabelValues(template, outcome).Inc()
}

func (metrics *Metrics) ObserveCycle(result outbox.RunResult, elapsed time.Duration) {
	metrics.outboxCycleSeconds.Observe(elapsed.Seconds())
	metrics.outboxLastDue.Set(float64(result.Due))
}

func (metrics *Metrics) ObserveEscrowItem(job string, outcome string) {
	metrics.escrowItems.WithLabelValues(job, outcome).Inc()
}

func (metrics *Metrics) ObserveEscrowRun(result escrow.Result, elapsed time.Duration) {
	metrics.escrowRunSeconds.Observe(elapsed.Seconds())
}
