package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	StageOutcomes   *prometheus.CounterVec
	PaymentAttempts *prometheus.CounterVec
	Compensations   *prometheus.CounterVec
	ThresholdAlerts *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	stageOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_stage_outcomes_total",
		Help: "Stage runs by stage and outcome.",
	}, []string{"stage", "outcome"})
	paymentAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_payment_attempts_total",
		Help: "Payment gateway attempts by outcome.",
	}, []string{"outcome"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_inventory_compensations_total",
		Help: "Inventory compensation runs by outcome.",
	}, []string{"outcome"})
	thresholds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_inventory_threshold_alerts_total",
		Help: "Low stock alerts raised by the inventory monitor.",
	}, []string{"store"})

	r.MustRegister(stageOutcomes, paymentAttempts, compensations, thresholds)
	return &Registry{
		reg:             r,
		StageOutcomes:   stageOutcomes,
		PaymentAttempts: paymentAttempts,
		Compensations:   compensations,
		ThresholdAlerts: thresholds,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) StageOutcome(stage, outcome string) {
	r.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (r *Registry) PaymentAttempt(outcome string) {
	r.PaymentAttempts.WithLabelValues(outcome).Inc()
}

func (r *Registry) Compensation(outcome string) {
	r.Compensations.WithLabelValues(outcome).Inc()
}

func (r *Registry) ThresholdReached(storeID string) {
	r.ThresholdAlerts.WithLabelValues(storeID).Inc()
}
