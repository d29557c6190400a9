package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter spaces actions by a delay drawn uniformly from
// [minDelay, maxDelay]. The first Wait returns immediately.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	rnd        *rand.Rand
	now        func() time.Time
}

type Option func(*SimpleRateLimiter)

func WithRand(r *rand.Rand) Option {
	return func(l *SimpleRateLimiter) { l.rnd = r }
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration, opts ...Option) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	r := &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := r.now().Sub(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			t := time.NewTimer(delay - elapsed)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	r.lastAction = r.now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max < min {
		max = min
	}
	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if r.minDelay == r.maxDelay {
		return r.minDelay
	}
	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(r.rnd.Int63n(int64(delta)+1))
}

// AdaptiveRateLimiter widens the delay range after the site starts blocking
// and relaxes it back to the configured range after a run of clean pages.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	baseMin       time.Duration
	baseMax       time.Duration
	successCount  int
	backoffFactor float64
	backoffFloor  time.Duration
	ceiling       time.Duration
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration, opts ...Option) *AdaptiveRateLimiter {
	simple := NewSimpleRateLimiter(minDelay, maxDelay, opts...)
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: simple,
		baseMin:           simple.minDelay,
		baseMax:           simple.maxDelay,
		backoffFactor:     1.5,
		backoffFloor:      time.Second,
		ceiling:           120 * time.Second,
	}
}

// RecordSuccess counts a page fetched without browser recovery.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	if a.successCount < 5 {
		return
	}
	a.successCount = 0
	a.minDelay = a.baseMin
	a.maxDelay = a.baseMax
}

// RecordBlock counts a page that needed browser recovery.
func (a *AdaptiveRateLimiter) RecordBlock() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount = 0
	newMin := max(a.backoffFloor, time.Duration(float64(a.minDelay)*a.backoffFactor))
	newMax := max(newMin, time.Duration(float64(a.maxDelay)*a.backoffFactor))

	a.minDelay = min(newMin, a.ceiling)
	a.maxDelay = min(newMax, a.ceiling)
}
