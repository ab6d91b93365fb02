package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side instrumentation, exported on /metrics/autonomous.
var (
	obsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcycle",
		Subsystem: "obs",
		Name:      "requests_total",
		Help:      "Observability platform calls by operation and outcome.",
	}, []string{"op", "outcome"})

	obsRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vcycle",
		Subsystem: "obs",
		Name:      "retries_total",
		Help:      "Retry attempts by operation.",
	}, []string{"op"})

	obsRateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vcycle",
		Subsystem: "obs",
		Name:      "rate_limit_wait_seconds",
		Help:      "Time callers spent suspended on the shared token bucket.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)
