// Package ratelimit admits requests per caller identity using a fixed window
// counter held in a shared store.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// CounterStore is the shared counter backend. IncrementWithExpiry must
// increment key and, when the increment created it, set its expiry to window
// as one atomic unit. It returns the new count and the time until the key
// expires.
type CounterStore interface {
	IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Policy configures one limited surface. FailOpen admits requests while the
// store is unreachable; it is set for read-only surfaces only.
type Policy struct {
	Scope    string
	Max      int
	Window   time.Duration
	FailOpen bool
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Scope) == "" {
		return fmt.Errorf("rate limit scope required")
	}
	if p.Max <= 0 {
		return fmt.Errorf("rate limit %s: max must be > 0", p.Scope)
	}
	if p.Window < time.Second {
		return fmt.Errorf("rate limit %s: window must be >= 1s", p.Scope)
	}
	return nil
}

type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
	// Degraded is set when the store could not be consulted.
	Degraded bool
}

type Limiter struct {
	store   CounterStore
	log     *logger.Logger
	metrics *observability.Metrics
	prefix  string
}

func New(store CounterStore, log *logger.Logger, metrics *observability.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		log:     log.With("component", "RateLimiter"),
		metrics: metrics,
		prefix:  "ratelimit",
	}
}

// Admit counts one request for identity under p.
func (l *Limiter) Admit(ctx context.Context, p Policy, identity string) Decision {
	if err := p.validate(); err != nil {
		// Invalid policies fail closed.
		l.log.Error("invalid rate limit policy", "error", err)
		return l.degraded(p, false)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "anonymous"
	}
	key := l.prefix + ":" + p.Scope + ":" + identity

	count, ttl, err := l.store.IncrementWithExpiry(ctx, key, p.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable",
			"scope", p.Scope,
			"fail_open", p.FailOpen,
			"error", err,
		)
		return l.degraded(p, p.FailOpen)
	}
	if ttl <= 0 || ttl > p.Window {
		ttl = p.Window
	}

	d := Decision{
		Allowed:      count <= int64(p.Max),
		Limit:        p.Max,
		Remaining:    int(math.Max(0, float64(int64(p.Max)-count))),
		ResetSeconds: int(math.Ceil(ttl.Seconds())),
	}
	if d.Allowed {
		l.metrics.IncRateLimitDecision(p.Scope, "allowed")
	} else {
		l.metrics.IncRateLimitDecision(p.Scope, "rejected")
	}
	return d
}

func (l *Limiter) degraded(p Policy, allow bool) Decision {
	outcome := "fail_closed"
	if allow {
		outcome = "fail_open"
	}
	l.metrics.IncRateLimitDecision(p.Scope, outcome)
	return Decision{
		Allowed:      allow,
		Limit:        p.Max,
		Remaining:    0,
		ResetSeconds: int(math.Ceil(p.Window.Seconds())),
		Degraded:     true,
	}
}
