package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_runs_active",
		Help: "Dispatch runs currently in flight.",
	})

	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Matching attempts across all runs.",
	})

	runOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_run_outcomes_total",
		Help: "Terminal run outcomes by kind.",
	}, []string{"outcome"}) // assigned, escalated, cancelled

	vendorTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_vendor_timeouts_total",
		Help: "Assignments abandoned because the vendor missed the arrival deadline.",
	})

	timeToAssign = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_time_to_assign_seconds",
		Help:    "Seconds from run start to a successful assignment.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
