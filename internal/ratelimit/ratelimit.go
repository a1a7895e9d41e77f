// Package ratelimit provides a per-tool token-bucket limiter the executor
// (C6) consults before invoking a tool, generalized from the teacher's
// per-API adaptive limiter (features/model/middleware/ratelimit.go) from the
// model-call site to the tool-call site. Unlike the teacher's AIMD variant,
// this limiter only ever narrows its rate on an explicit
// retry_after_seconds hint and recovers to its configured rate once that
// cooldown elapses; it does not probe upward on every success.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one golang.org/x/time/rate.Limiter per key (tool name or
// upstream API id), created lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	defaultR rate.Limit
	defaultB int
}

// New constructs a Limiter. defaultPerSecond and defaultBurst apply to any
// key seen for the first time; zero defaultPerSecond means unlimited.
func New(defaultPerSecond float64, defaultBurst int) *Limiter {
	r := rate.Inf
	if defaultPerSecond > 0 {
		r = rate.Limit(defaultPerSecond)
	}
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		defaultR: r,
		defaultB: defaultBurst,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.defaultR, l.defaultB)
		l.buckets[key] = b
	}
	return b
}

// Wait blocks until key's bucket admits one call, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

// ApplyRetryAfter narrows key's bucket to at most one call per
// retryAfterSeconds until the cooldown elapses, then restores the default
// rate. This is the executor's response to a StepResult error carrying a
// RetryAfterSeconds hint (spec §7).
func (l *Limiter) ApplyRetryAfter(key string, retryAfterSeconds float64) {
	if retryAfterSeconds <= 0 {
		return
	}
	b := l.bucket(key)
	cooldown := time.Duration(retryAfterSeconds * float64(time.Second))
	narrowed := rate.Limit(1.0 / retryAfterSeconds)
	b.SetLimit(narrowed)
	b.SetBurst(1)
	go func() {
		time.Sleep(cooldown)
		l.mu.Lock()
		defer l.mu.Unlock()
		cur, ok := l.buckets[key]
		if !ok || cur != b {
			return
		}
		b.SetLimit(l.defaultR)
		b.SetBurst(l.defaultB)
	}()
}
