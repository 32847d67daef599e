package enrichment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_entries_total",
		Help: "Enrichment queue entries processed by outcome.",
	}, []string{"outcome"}) // outcome: completed, rejected, failed

	entryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrichment_entry_duration_seconds",
		Help:    "Time to process one enrichment entry.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	requestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrichment_entries_requested_total",
		Help: "Entries queued by enrichment requests.",
	})
)
