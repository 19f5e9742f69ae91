// Package gate enforces the per-user daily ceiling on AI-backed operations.
package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reframe/internal/store"
)

// Decision is the outcome of a gate check. Remaining counts calls left
// today; RetryAfter is the wait until the counter's day key rolls over.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Gate owns the daily usage counter. The underlying store increment is a
// single atomic conditional step, so two concurrent requests can never both
// slip under the ceiling.
type Gate struct {
	store store.Store
	limit int
	now   func() time.Time
	log   *zap.Logger
}

func New(st store.Store, limit int, log *zap.Logger) *Gate {
	if limit <= 0 {
		limit = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{store: st, limit: limit, now: func() time.Time { return time.Now().UTC() }, log: log}
}

// Limit returns the configured daily ceiling.
func (g *Gate) Limit() int { return g.limit }

// CheckAndConsume reserves one call for userID today. A store failure is
// returned as an error: the default posture is fail closed, and callers of
// purely cosmetic operations opt into leniency via CheckAndConsumeLenient.
func (g *Gate) CheckAndConsume(ctx context.Context, userID string) (Decision, error) {
	now := g.now()
	count, allowed, err := g.store.IncrementUsage(ctx, userID, store.DayKey(now), g.limit)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: allowed, Remaining: g.limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !allowed {
		d.RetryAfter = untilNextDay(now)
	}
	return d, nil
}

// CheckAndConsumeLenient behaves like CheckAndConsume but fails open when
// the store is unreachable. Only cosmetic operations should use it.
func (g *Gate) CheckAndConsumeLenient(ctx context.Context, userID string) Decision {
	d, err := g.CheckAndConsume(ctx, userID)
	if err != nil {
		g.log.Warn("usage gate unavailable, allowing cosmetic call",
			zap.String("user", userID), zap.Error(err))
		return Decision{Allowed: true, Remaining: 0}
	}
	return d
}

func untilNextDay(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
