package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is a shared key/value store of integer counters with per-key expiry.
type Store interface {
	// Get returns the counter at key; ok is false when it is absent or expired.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)
	Put(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AtomicStore is a Store that can check and increment a counter in one step.
type AtomicStore interface {
	Store
	IncrementIfBelow(ctx context.Context, key string, max int64, ttl time.Duration) (count int64, admitted bool, err error)
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Observer receives every admission decision. It may be nil.
type Observer interface {
	ObserveDecision(endpoint string, allowed bool)
}

// Limiter enforces fixed-window budgets per (identity, endpoint).
type Limiter struct {
	store     Store
	policies  *Policies
	ttlBuffer time.Duration
	now       func() time.Time
	observer  Observer
	log       logrus.FieldLogger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithTTLBuffer sets how long counters outlive their window.
func WithTTLBuffer(d time.Duration) Option {
	return func(l *Limiter) { l.ttlBuffer = d }
}

// WithObserver reports decisions, typically to metrics.
func WithObserver(o Observer) Option {
	return func(l *Limiter) { l.observer = o }
}

// NewLimiter creates a limiter over store.
func NewLimiter(store Store, policies *Policies, log logrus.FieldLogger, opts ...Option) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	l := &Limiter{
		store:     store,
		policies:  policies,
		ttlBuffer: 60 * time.Second,
		now:       time.Now,
		log:       log.WithField("component", "ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or rejects one request by identity to endpoint and records
// it when admitted. Rejections never increment the counter.
func (l *Limiter) Check(ctx context.Context, identity, endpoint string) (Result, error) {
	policy := l.policies.For(endpoint)
	windowStart, resetAt := window(l.now(), policy.Window)
	key := Key(identity, endpoint, windowStart)
	ttl := counterTTL(policy.Window, l.ttlBuffer)

	result := Result{Limit: policy.Max, ResetAt: resetAt}

	var (
		count    int64
		admitted bool
		err      error
	)
	if atomic, ok := l.store.(AtomicStore); ok {
		count, admitted, err = atomic.IncrementIfBelow(ctx, key, int64(policy.Max), ttl)
	} else {
		count, admitted, err = l.readThenWrite(ctx, key, int64(policy.Max), ttl)
	}
	if err != nil {
		return result, fmt.Errorf("rate limit check for %s: %w", endpoint, err)
	}

	result.Allowed = admitted
	if admitted {
		result.Remaining = policy.Max - int(count)
		if result.Remaining < 0 {
			result.Remaining = 0
		}
	}

	if l.observer != nil {
		l.observer.ObserveDecision(endpoint, admitted)
	}
	if !admitted {
		l.log.WithFields(logrus.Fields{
			"identity": identity,
			"endpoint": endpoint,
			"limit":    policy.Max,
		}).Warn("rate limit exceeded")
	}
	return result, nil
}

// readThenWrite is used for stores without an atomic increment. Two racing
// callers can both observe max-1 and both be admitted.
func (l *Limiter) readThenWrite(ctx context.Context, key string, max int64, ttl time.Duration) (int64, bool, error) {
	current, _, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if current >= max {
		return current, false, nil
	}
	if err := l.store.Put(ctx, key, current+1, ttl); err != nil {
		return 0, false, err
	}
	return current + 1, true, nil
}

// Peek reports whether identity still has budget for endpoint without
// recording a request.
func (l *Limiter) Peek(ctx context.Context, identity, endpoint string) (Result, error) {
	policy := l.policies.For(endpoint)
	windowStart, resetAt := window(l.now(), policy.Window)
	result := Result{Limit: policy.Max, ResetAt: resetAt}

	count, _, err := l.store.Get(ctx, Key(identity, endpoint, windowStart))
	if err != nil {
		return result, fmt.Errorf("rate limit peek for %s: %w", endpoint, err)
	}
	result.Allowed = count < int64(policy.Max)
	if result.Allowed {
		result.Remaining = policy.Max - int(count)
	}
	return result, nil
}

// Reset clears the current window's counter for identity and endpoint.
func (l *Limiter) Reset(ctx context.Context, identity, endpoint string) error {
	policy := l.policies.For(endpoint)
	windowStart, _ := window(l.now(), policy.Window)
	return l.store.Delete(ctx, Key(identity, endpoint, windowStart))
}

// Key is the counter key for identity and endpoint in the window starting at
// windowStart.
func Key(identity, endpoint string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", identity, endpoint, windowStart.UnixMilli())
}

// window aligns now to the start of its fixed window.
func window(now time.Time, size time.Duration) (start, reset time.Time) {
	sizeMs := size.Milliseconds()
	if sizeMs <= 0 {
		sizeMs = DefaultPolicy.Window.Milliseconds()
	}
	startMs := now.UnixMilli() / sizeMs * sizeMs
	return time.UnixMilli(startMs), time.UnixMilli(startMs + sizeMs)
}

func counterTTL(size, buffer time.Duration) time.Duration {
	seconds := (size + time.Second - 1) / time.Second
	return seconds*time.Second + buffer
}
