package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/mail-outbox/internal/model"
)

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	// Counters
	tasksEnqueued *prometheus.CounterVec
	tasksHandled  *prometheus.CounterVec
	drains        *prometheus.CounterVec

	// Gauges
	tasksPending *prometheus.GaugeVec

	// Histograms
	handleDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_tasks_enqueued_total",
				Help: "Total number of tasks enqueued",
			},
			[]string{"queue", "action"},
		),
		tasksHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_tasks_handled_total",
				Help: "Total number of handler invocations by outcome",
			},
			[]string{"action", "outcome"},
		),
		drains: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_drains_total",
				Help: "Total number of drain cycles by result",
			},
			[]string{"result"},
		),
		tasksPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outbox_tasks_pending",
				Help: "Current number of queued tasks",
			},
			[]string{"queue"},
		),
		handleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbox_handle_duration_seconds",
				Help:    "Handler execution duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
	}

	reg.MustRegister(
		m.tasksEnqueued,
		m.tasksHandled,
		m.drains,
		m.tasksPending,
		m.handleDuration,
	)

	return m
}

func (m *Metrics) enqueued(queue string, kind model.ActionKind) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(queue, string(kind)).Inc()
}

func (m *Metrics) handled(kind model.ActionKind, outcome Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.tasksHandled.WithLabelValues(string(kind), outcome.String()).Inc()
	m.handleDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (m *Metrics) drained(r Report) {
	if m == nil {
		return
	}
	result := "done"
	switch {
	case r.HumanCheck:
		result = "human_check"
	case r.Offline:
		result = "offline"
	case r.Paused:
		result = "paused"
	}
	m.drains.WithLabelValues(result).Inc()
}

func (m *Metrics) pending(entity, global int) {
	if m == nil {
		return
	}
	m.tasksPending.WithLabelValues(EntityQueue).Set(float64(entity))
	m.tasksPending.WithLabelValues(GlobalQueue).Set(float64(global))
}
