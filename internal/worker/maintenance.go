package worker

import (
	"context"
	"time"

	"mentorbook/internal/models"

	"github.com/rs/zerolog"
)

// Sweeper drops expired reservation holds.
type Sweeper interface {
	SweepExpired() int
}

// Completer promotes elapsed confirmed sessions to completed.
type Completer interface {
	CompleteElapsed(ctx context.Context) (int, error)
}

// Maintenance runs the two periodic jobs the booking core needs: the
// safety-net sweep for expired holds (the access path already frees them
// lazily) and the promotion of elapsed confirmed sessions. Completion runs
// against the database and retries transient failures with backoff.
type Maintenance struct {
	sweeper            Sweeper
	completer          Completer
	sweepInterval      time.Duration
	completionInterval time.Duration
	retryPolicy        RetryPolicy
	logger             *zerolog.Logger
}

func NewMaintenance(sweeper Sweeper, completer Completer, sweepInterval, completionInterval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *Maintenance {
	if sweepInterval <= 0 {
		sweepInterval = models.DefaultSweepIntervalSeconds * time.Second
	}
	if completionInterval <= 0 {
		completionInterval = models.DefaultCompletionIntervalSeconds * time.Second
	}
	return &Maintenance{
		sweeper:            sweeper,
		completer:          completer,
		sweepInterval:      sweepInterval,
		completionInterval: completionInterval,
		retryPolicy:        retry.withDefaults(),
		logger:             logger,
	}
}

// Run blocks until the context is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	sweep := time.NewTicker(m.sweepInterval)
	defer sweep.Stop()
	complete := time.NewTicker(m.completionInterval)
	defer complete.Stop()

	m.logger.Info().
		Dur("sweep_interval", m.sweepInterval).
		Dur("completion_interval", m.completionInterval).
		Msg("maintenance worker started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("maintenance worker stopped")
			return
		case <-sweep.C:
			m.sweeper.SweepExpired()
		case <-complete.C:
			m.completeWithRetry(ctx)
		}
	}
}

func (m *Maintenance) completeWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= m.retryPolicy.MaxRetries; attempt++ {
		_, err := m.completer.CompleteElapsed(ctx)
		if err == nil {
			return
		}

		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("completion pass failed")
		if attempt == m.retryPolicy.MaxRetries {
			m.logger.Error().Err(err).Msg("completion pass gave up, waiting for next tick")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryPolicy.NextDelay(attempt)):
		}
	}
}
