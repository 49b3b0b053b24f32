package quota

import (
	"context"
	"fmt"
	"time"

	"mentorbook/internal/domain"
	"mentorbook/internal/events"
	"mentorbook/internal/metrics"
	"mentorbook/internal/models"

	"github.com/rs/zerolog"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Limit is a ceiling on committed usage of one feature within one period.
type Limit struct {
	Ceiling int64
	Period  Period
}

// CounterStore holds per-key usage counters. Increment must be atomic so two
// concurrent consumers cannot both land under the ceiling when only one fits.
type CounterStore interface {
	Increment(ctx context.Context, key string, expireAt time.Time) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)
}

// Gate enforces per-period usage ceilings with the same reserve/confirm shape
// as slot reservation: TryConsume takes a unit up front, Release compensates
// when the downstream action fails.
type Gate struct {
	store  CounterStore
	clock  domain.Clock
	limits map[string]Limit
	bus    domain.EventPublisher
	logger *zerolog.Logger
}

func NewGate(store CounterStore, clk domain.Clock, limits map[string]Limit, bus domain.EventPublisher, logger *zerolog.Logger) *Gate {
	return &Gate{
		store:  store,
		clock:  clk,
		limits: limits,
		bus:    bus,
		logger: logger,
	}
}

// Decision reports a granted reservation and what remains of the ceiling.
type Decision struct {
	Feature   string
	PeriodKey string
	Remaining int64
}

// periodKey derives the current period identifier from the injected clock.
// Caller-supplied times are never used here, so skewed clients cannot slide
// themselves into a fresh period.
func (g *Gate) periodKey(p Period) (string, time.Time) {
	now := g.clock.Now().UTC()
	switch p {
	case PeriodMonthly:
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		return now.Format("2006-01"), end
	default:
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return now.Format("2006-01-02"), end
	}
}

func counterKey(userID, feature, periodKey string) string {
	return fmt.Sprintf("quota:%s:%s:%s", feature, userID, periodKey)
}

// TryConsume reserves one unit against the feature's ceiling for the current
// period. When the post-reservation count would exceed the ceiling the unit
// is handed back and a QuotaExceededError is returned; the counter is left
// unchanged.
func (g *Gate) TryConsume(ctx context.Context, userID, feature string) (*Decision, error) {
	limit, ok := g.limits[feature]
	if !ok {
		return nil, fmt.Errorf("quota: no limit configured for feature %q", feature)
	}

	periodKey, expireAt := g.periodKey(limit.Period)
	key := counterKey(userID, feature, periodKey)

	count, err := g.store.Increment(ctx, key, expireAt)
	if err != nil {
		return nil, fmt.Errorf("quota: increment %s: %w", key, err)
	}

	if count > limit.Ceiling {
		if _, derr := g.store.Decrement(ctx, key); derr != nil {
			g.logger.Error().Err(derr).Str("key", key).Msg("quota compensation failed")
		}
		metrics.IncQuotaDecision(feature, "denied")
		g.publishDenied(userID, feature, periodKey, limit.Ceiling)
		return nil, &QuotaExceededError{
			UserID:    userID,
			Feature:   feature,
			PeriodKey: periodKey,
			Ceiling:   limit.Ceiling,
		}
	}

	metrics.IncQuotaDecision(feature, "granted")
	return &Decision{
		Feature:   feature,
		PeriodKey: periodKey,
		Remaining: limit.Ceiling - count,
	}, nil
}

// Release hands back one reserved unit, compensating a reservation whose
// downstream action failed. Releasing below zero clamps at zero.
func (g *Gate) Release(ctx context.Context, userID, feature string) error {
	limit, ok := g.limits[feature]
	if !ok {
		return fmt.Errorf("quota: no limit configured for feature %q", feature)
	}

	periodKey, _ := g.periodKey(limit.Period)
	key := counterKey(userID, feature, periodKey)
	if _, err := g.store.Decrement(ctx, key); err != nil {
		return fmt.Errorf("quota: decrement %s: %w", key, err)
	}
	return nil
}

// Usage reports the current period's counter for display purposes.
func (g *Gate) Usage(ctx context.Context, userID, feature string) (*models.UsageRecord, error) {
	limit, ok := g.limits[feature]
	if !ok {
		return nil, fmt.Errorf("quota: no limit configured for feature %q", feature)
	}

	periodKey, expireAt := g.periodKey(limit.Period)
	key := counterKey(userID, feature, periodKey)

	// Increment-then-decrement reads the counter without a separate Get on
	// the store contract.
	count, err := g.store.Increment(ctx, key, expireAt)
	if err != nil {
		return nil, err
	}
	if _, err := g.store.Decrement(ctx, key); err != nil {
		return nil, err
	}

	return &models.UsageRecord{
		UserID:    userID,
		Feature:   feature,
		PeriodKey: periodKey,
		Used:      count - 1,
		Ceiling:   limit.Ceiling,
	}, nil
}

func (g *Gate) publishDenied(userID, feature, periodKey string, ceiling int64) {
	if g.bus == nil {
		return
	}
	payload := events.QuotaEventPayload{
		UserID:    userID,
		Feature:   feature,
		PeriodKey: periodKey,
		Ceiling:   ceiling,
	}
	if err := g.bus.PublishJSON(events.EventQuotaDenied, payload); err != nil {
		g.logger.Error().Err(err).Str("feature", feature).Msg("publish quota event error")
	}
}
