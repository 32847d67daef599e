package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker("salesforce", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, NewTransientError(errors.New("down"), 503) }
	ok := func(context.Context) (int, error) { return 7, nil }

	_, _ = Call(context.Background(), b, fail)
	assert.False(t, b.Open())
	_, _ = Call(context.Background(), b, fail)
	assert.True(t, b.Open())

	_, err := Call(context.Background(), b, ok)
	require.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	assert.False(t, b.Open())
	v, err := Call(context.Background(), b, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, b.Open())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker("notion", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, func(context.Context) (int, error) { return 0, syscall.ECONNREFUSED })
	assert.True(t, b.Open())

	now = now.Add(61 * time.Second)
	_, _ = Call(context.Background(), b, func(context.Context) (int, error) { return 0, syscall.ECONNREFUSED })
	assert.True(t, b.Open())
}

func TestBreaker_NonTransientErrorsDoNotOpen(t *testing.T) {
	b := NewBreaker("hubspot", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	_, err := Call(context.Background(), b, func(context.Context) (int, error) {
		return 0, HTTPStatusError("hubspot", 400, "invalid property")
	})
	require.Error(t, err)
	assert.False(t, b.Open())

	transient := func(context.Context) (int, error) { return 0, HTTPStatusError("hubspot", 502, "bad gateway") }
	_, _ = Call(context.Background(), b, transient)
	assert.True(t, b.Open())
}

func TestBreaker_NonTransientErrorResetsCount(t *testing.T) {
	b := NewBreaker("webhook", BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	transient := func(context.Context) (int, error) { return 0, NewTransientError(errors.New("timeout"), 0) }
	rejected := func(context.Context) (int, error) { return 0, errors.New("validation failed") }

	_, _ = Call(context.Background(), b, transient)
	_, _ = Call(context.Background(), b, rejected)
	_, _ = Call(context.Background(), b, transient)
	assert.False(t, b.Open())
}

func TestBreakers_Get(t *testing.T) {
	bs := NewBreakers(BreakerConfig{})
	a := bs.Get("webhook")
	assert.Same(t, a, bs.Get("webhook"))
	assert.NotSame(t, a, bs.Get("notion"))
	assert.Equal(t, 5, a.cfg.FailureThreshold)
}
