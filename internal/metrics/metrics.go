// Package metrics exposes prometheus instruments for the analysis pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Attempts counts analysis attempts started, whatever their outcome.
	Attempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Name:      "analysis_attempts_total",
		Help:      "Analysis attempts started.",
	})

	// Dispositions counts attempt outcomes by final disposition.
	Dispositions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verity",
		Name:      "dispositions_total",
		Help:      "Attempt outcomes by disposition.",
	}, []string{"disposition"})

	// CacheHits counts attempts served from the result cache without a
	// model call.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Name:      "cache_hits_total",
		Help:      "Attempts served from the result cache.",
	})

	// BudgetRefusals counts attempts refused because the monthly spend
	// ceiling was reached.
	BudgetRefusals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Name:      "budget_refusals_total",
		Help:      "Attempts refused at the spend ceiling.",
	})

	// SpendUSD tracks cumulative model spend in US dollars.
	SpendUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Name:      "spend_usd_total",
		Help:      "Cumulative model spend in USD.",
	})
)
