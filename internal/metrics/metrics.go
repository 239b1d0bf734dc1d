package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "planchange"

// Metrics groups the collectors recorded by the plan-change flow.
type Metrics struct {
	Previews       *prometheus.CounterVec
	Executions     *prometheus.CounterVec
	ChargeAttempts *prometheus.CounterVec
	Replays        prometheus.Counter
	Rejections     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Previews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Plan change previews computed, by change type and whether the change can proceed.",
		}, []string{"change_type", "can_proceed"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Plan change executions by change type and outcome kind.",
		}, []string{"change_type", "outcome"}),
		ChargeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_charge_attempts_total",
			Help:      "Gateway charge attempts by normalized result.",
		}, []string{"result"}),
		Replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Executions answered from a stored result.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_rejections_total",
			Help:      "Executions rejected before reaching the gateway, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Previews, m.Executions, m.ChargeAttempts, m.Replays, m.Rejections)
	return m
}

// NewUnregistered returns collectors bound to a throwaway registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
