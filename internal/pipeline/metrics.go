package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsFinished  *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	Transitions   *prometheus.CounterVec
	GatesRaised   *prometheus.CounterVec
	GatesResolved *prometheus.CounterVec
	Questions     *prometheus.CounterVec
	AutoPauses    prometheus.Counter
	SlotOccupied  prometheus.Gauge
}

// NewMetrics creates the engine metrics on registry. A nil registry leaves
// them unregistered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagehand_runs_started_total",
			Help: "Total number of agent runs dispatched",
		}),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagehand_runs_finished_total",
				Help: "Total number of agent runs finished, by outcome",
			},
			[]string{"stage", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stagehand_run_duration_seconds",
				Help:    "Agent run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagehand_transitions_total",
				Help: "Total number of stage transitions",
			},
			[]string{"kind", "cause"},
		),
		GatesRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagehand_gates_requested_total",
				Help: "Total number of human gates raised",
			},
			[]string{"type"},
		),
		GatesResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagehand_gates_resolved_total",
				Help: "Total number of human gates resolved",
			},
			[]string{"status"},
		),
		Questions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagehand_questions_total",
				Help: "Agent questions by final status",
			},
			[]string{"status"},
		),
		AutoPauses: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagehand_auto_pauses_total",
			Help: "Items paused after exhausting retries",
		}),
		SlotOccupied: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stagehand_agent_slot_occupied",
			Help: "1 while the single agent slot is held",
		}),
	}
}
