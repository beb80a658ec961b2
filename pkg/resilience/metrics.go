package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_retry_attempts_total",
		Help: "Failed attempts that triggered the retry policy, by operation.",
	}, []string{"operation"})

	retryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resilience_retry_operation_seconds",
		Help:    "Total duration of operations run under the retry policy.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resilience_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"breaker"})
)

func recordRetryAttempt(operation string) {
	retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func recordRetryOperation(operation string, seconds float64, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	retryOperationDuration.WithLabelValues(operation, outcome).Observe(seconds)
}

func recordBreakerState(breaker, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(breaker).Set(v)
}
