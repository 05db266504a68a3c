// Package metrics holds the Prometheus collectors of the replenishment service. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "thawplan"

type Metrics struct {
	flowRuns       *prometheus.CounterVec
	salesRequested *prometheus.CounterVec
	salesFulfilled *prometheus.CounterVec
	expired        *prometheus.CounterVec
	withdrawal     *prometheus.GaugeVec
	available      *prometheus.GaugeVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer to expose them on /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		flowRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Daily flow runs by outcome and the step they stopped at.",
		}, []string{"outcome", "step"}),
		salesRequested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_requested_kg_total",
			Help:      "Kilograms requested by sales.",
		}, []string{"sku"}),
		salesFulfilled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_fulfilled_kg_total",
			Help:      "Kilograms actually sold.",
		}, []string{"sku"}),
		expired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_kg_total",
			Help:      "Kilograms lost to expiry.",
		}, []string{"sku"}),
		withdrawal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_withdrawal_kg",
			Help:      "Gross kilograms of the latest withdrawal.",
		}, []string{"sku"}),
		available: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_kg",
			Help:      "Sellable kilograms after the latest daily flow.",
		}, []string{"sku"}),
	}
}

func (m *Metrics) FlowRun(step string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.flowRuns.WithLabelValues(outcome, step).Inc()
}

func (m *Metrics) Stock(sku string, withdrawal, available float64) {
	if m == nil {
		return
	}
	m.withdrawal.WithLabelValues(sku).Set(withdrawal)
	m.available.WithLabelValues(sku).Set(available)
}

func (m *Metrics) Expired(sku string, kg float64) {
	if m == nil || kg <= 0 {
		return
	}
	m.expired.WithLabelValues(sku).Add(kg)
}

func (m *Metrics) Sale(sku string, requested, fulfilled float64) {
	if m == nil {
		return
	}
	m.salesRequested.WithLabelValues(sku).Add(requested)
	m.salesFulfilled.WithLabelValues(sku).Add(fulfilled)
}
