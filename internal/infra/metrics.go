package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Engine: проходы, нарушения, сработавшие действия
	Evaluations      prometheus.Counter
	Violations       *prometheus.CounterVec
	ActionsTriggered *prometheus.CounterVec
	ConditionErrors  *prometheus.CounterVec

	// Runner: сбойные циклы и текущая серия
	CycleFailures prometheus.Counter
	FailureStreak prometheus.Gauge

	// Queue / Worker
	QueueDepth       prometheus.Gauge
	TasksTotal       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "autoheal_evaluations_total",
			Help: "Total number of policy evaluation passes.",
		}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_violations_total",
			Help: "Total number of policy violations.",
		}, []string{"policy", "severity"}),
		ActionsTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_actions_triggered_total",
			Help: "Total number of remediation actions triggered by the engine.",
		}, []string{"action"}),
		ConditionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_condition_errors_total",
			Help: "Conditions that failed to evaluate and were treated as not triggered.",
		}, []string{"policy"}),

		CycleFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "autoheal_runner_cycle_failures_total",
			Help: "Total number of failed policy runner cycles.",
		}),
		FailureStreak: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoheal_runner_failure_streak",
			Help: "Current number of consecutive failed runner cycles.",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoheal_queue_depth",
			Help: "Last sampled number of undelivered tasks.",
		}),
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_tasks_total",
			Help: "Task lifecycle events.",
		}, []string{"outcome"}), // enqueued, dequeued, completed, failed
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoheal_dispatch_duration_seconds",
			Help:    "Histogram of remediation executor call latencies.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action", "outcome"}),

		ErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: metrics_fetch, persist, enqueue, dequeue, dispatch, action_dispatch

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autoheal_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"executor"}),

		AuditBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "autoheal_audit_buffer_utilization",
			Help: "Current number of violations in audit buffer.",
		}),
	}
}
