package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a breaker opens and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Breaker opens after FailureThreshold consecutive transient failures and
// rejects calls until Cooldown elapses. The first call after the cooldown is a
// trial: success closes the breaker, a transient failure restarts the
// cooldown. Non-transient errors mean the service answered, so they count as
// success.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLocked()
}

func (b *Breaker) openLocked() bool {
	return b.failures >= b.cfg.FailureThreshold && b.now().Sub(b.openedAt) < b.cfg.Cooldown
}

// Call runs fn unless the breaker is open.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b.mu.Lock()
	if b.openLocked() {
		b.mu.Unlock()
		return zero, ErrCircuitOpen
	}
	b.mu.Unlock()

	val, err := fn(ctx)
	b.record(err)
	return val, err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !IsTransient(err) {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		if b.failures == b.cfg.FailureThreshold {
			zap.L().Warn("circuit opened", zap.String("service", b.name), zap.Error(err))
		}
		b.openedAt = b.now()
	}
}

// Breakers hands out one breaker per service name.
type Breakers struct {
	cfg BreakerConfig
	mu  sync.Mutex
	m   map[string]*Breaker
}

// NewBreakers creates an empty breaker set.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns the breaker for service, creating it on first use.
func (bs *Breakers) Get(service string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[service]
	if !ok {
		b = NewBreaker(service, bs.cfg)
		bs.m[service] = b
	}
	return b
}
