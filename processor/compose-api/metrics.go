package composeapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoforge_http_requests_total",
		Help: "Control plane requests by endpoint and status code.",
	}, []string{"endpoint", "code"})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repoforge_dispatches_total",
		Help: "Dispatch outcomes as seen by the first attempt.",
	}, []string{"status"})

	composeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repoforge_compose_duration_seconds",
		Help:    "Time spent validating and dispatching a compose request.",
		Buckets: prometheus.DefBuckets,
	})
)
