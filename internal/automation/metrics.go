package automation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_executions_total",
		Help: "Automation item executions by status.",
	}, []string{"status"})

	batchesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_batches_finalized_total",
		Help: "Automation batches finalized by final status.",
	}, []string{"status"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automation_action_duration_seconds",
		Help:    "Connector action latency.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"connector_type"})
)
