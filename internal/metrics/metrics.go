// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set carries the engine's counters. One Set per process, registered on
// its own registry so tests can create as many as they like.
type Set struct {
	registry *prometheus.Registry

	Trades           *prometheus.CounterVec
	ReportsFiled     prometheus.Counter
	LoansIssued      *prometheus.CounterVec
	FluctuationTicks prometheus.Counter
	LateFeeSweeps    prometheus.Counter
}

// New builds a Set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Set{
		registry: reg,
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mogul_trades_total",
			Help: "Executed market operations by kind.",
		}, []string{"op"}),
		ReportsFiled: factory.NewCounter(prometheus.CounterOpts{
			Name: "mogul_reports_filed_total",
			Help: "Revenue reports committed to the ledger.",
		}),
		LoansIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mogul_loans_issued_total",
			Help: "Loans disbursed by kind.",
		}, []string{"kind"}),
		FluctuationTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mogul_fluctuation_ticks_total",
			Help: "Completed market-wide price fluctuation passes.",
		}),
		LateFeeSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "mogul_late_fee_sweeps_total",
			Help: "Completed overdue-loan late fee sweeps.",
		}),
	}
}

// Handler serves the set's registry in the Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
