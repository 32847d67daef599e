package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extraction_runs_total",
		Help: "Extraction invocations by strategy and outcome.",
	}, []string{"strategy", "outcome"}) // outcome: created, skipped, fallback, error

	itemsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extraction_items_created_total",
		Help: "List items created by extraction.",
	}, []string{"strategy"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extraction_llm_tokens_total",
		Help: "Tokens used by llm_prompt extraction.",
	}, []string{"kind"}) // kind: prompt, completion

	llmCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extraction_llm_cost_usd_total",
		Help: "Estimated USD cost of llm_prompt extraction.",
	})
)
