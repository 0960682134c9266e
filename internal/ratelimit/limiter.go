package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

// Store is the persistence the limiter needs. *store.Store satisfies it.
type Store interface {
	GetRateLimit(ctx context.Context, sessionID string) (*store.RateLimit, error)
	CreateRateLimit(ctx context.Context, sessionID string, now time.Time) error
	IncrementRateLimit(ctx context.Context, sessionID string) error
	ResetRateLimit(ctx context.Context, sessionID string, now time.Time) error
}

type Result struct {
	Allowed   bool
	Remaining int
}

// Limiter is a fixed-window per-session request counter.
//
// The check is a read followed by a separate write. Two concurrent requests
// for the same session can both read the same count and both be allowed, so a
// session may exceed max by the number of requests racing at the boundary.
// This is accepted: the counter guards against abuse, not billing.
type Limiter struct {
	store   Store
	window  time.Duration
	max     int
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(s Store, window time.Duration, max int, logger *slog.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:   s,
		window:  window,
		max:     max,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// Window is the duration callers should advertise in Retry-After on denial.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// CheckAndConsume records one request for sessionID and reports whether it
// may proceed. Store failures allow the request.
func (l *Limiter) CheckAndConsume(ctx context.Context, sessionID string) Result {
	res, err := l.check(ctx, sessionID)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request",
			"session_id", sessionID, "error", err)
		l.metrics.RateLimitDecision("fail_open")
		return Result{Allowed: true, Remaining: l.max}
	}
	if res.Allowed {
		l.metrics.RateLimitDecision("allowed")
	} else {
		l.metrics.RateLimitDecision("denied")
	}
	return res
}

func (l *Limiter) check(ctx context.Context, sessionID string) (Result, error) {
	now := l.now()

	rl, err := l.store.GetRateLimit(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		if err := l.store.CreateRateLimit(ctx, sessionID, now); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: l.max - 1}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if !rl.WindowStart.After(now.Add(-l.window)) {
		if err := l.store.ResetRateLimit(ctx, sessionID, now); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: l.max - 1}, nil
	}

	if rl.RequestCount >= l.max {
		return Result{Allowed: false, Remaining: 0}, nil
	}
	if err := l.store.IncrementRateLimit(ctx, sessionID); err != nil {
		return Result{}, err
	}
	return Result{Allowed: true, Remaining: l.max - rl.RequestCount - 1}, nil
}
