package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}

func TestClaude(t *testing.T) {
	c := NewCalculator(testRates())

	// 1M input + 1M output on haiku = 1.00 + 5.00
	got := c.Claude(Usage{Model: "claude-haiku-4-5-20251001", Input: 1_000_000, Output: 1_000_000})
	assert.InDelta(t, 6.00, got, 0.001)
}

func TestClaude_CacheTokens(t *testing.T) {
	c := NewCalculator(testRates())

	// 1M cache write on sonnet = 3.00 * 1.25; 1M cache read = 3.00 * 0.1
	got := c.Claude(Usage{Model: "claude-sonnet-4-5-20250929", CacheWrite: 1_000_000, CacheRead: 1_000_000})
	assert.InDelta(t, 3.75+0.30, got, 0.001)
}

func TestClaude_AliasMatchesDatedModel(t *testing.T) {
	c := NewCalculator(testRates())

	got := c.Claude(Usage{Model: "claude-haiku-4-5", Input: 500_000})
	assert.InDelta(t, 0.50, got, 0.001)
	assert.True(t, c.Known("claude-haiku-4-5"))
}

func TestClaude_UnknownModel(t *testing.T) {
	c := NewCalculator(testRates())

	assert.Zero(t, c.Claude(Usage{Model: "gpt-4o", Input: 1_000_000}))
	assert.Zero(t, c.Claude(Usage{Input: 1_000_000}))
	assert.False(t, c.Known("claude-3"))
	assert.False(t, c.Known(""))
}

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()
	assert.Len(t, rates.Anthropic, 3)
	for name, r := range rates.Anthropic {
		assert.Positive(t, r.Input, name)
		assert.Greater(t, r.Output, r.Input, name)
	}
}
