package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	calls atomic.Int64
}

func (f *fakeSweeper) SweepExpired() int {
	f.calls.Add(1)
	return 0
}

type fakeCompleter struct {
	calls    atomic.Int64
	failures atomic.Int64
}

func (f *fakeCompleter) CompleteElapsed(_ context.Context) (int, error) {
	n := f.calls.Add(1)
	if n <= f.failures.Load() {
		return 0, errors.New("database locked")
	}
	return 1, nil
}

func TestMaintenanceRunsBothJobs(t *testing.T) {
	sweeper := &fakeSweeper{}
	completer := &fakeCompleter{}
	logger := zerolog.Nop()

	m := NewMaintenance(sweeper, completer, 10*time.Millisecond, 10*time.Millisecond, RetryPolicy{}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sweeper.calls.Load() > 0 && completer.calls.Load() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestCompletionRetriesTransientFailure(t *testing.T) {
	completer := &fakeCompleter{}
	completer.failures.Store(2)
	logger := zerolog.Nop()

	m := NewMaintenance(&fakeSweeper{}, completer, time.Hour, time.Hour, RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, &logger)

	m.completeWithRetry(context.Background())
	assert.Equal(t, int64(3), completer.calls.Load(), "two failures, then success")
}

func TestCompletionGivesUpAfterMaxRetries(t *testing.T) {
	completer := &fakeCompleter{}
	completer.failures.Store(100)
	logger := zerolog.Nop()

	m := NewMaintenance(&fakeSweeper{}, completer, time.Hour, time.Hour, RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
	}, &logger)

	m.completeWithRetry(context.Background())
	assert.Equal(t, int64(3), completer.calls.Load())
}

func TestRetryPolicyZeroValueDefaults(t *testing.T) {
	var policy RetryPolicy

	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 30*time.Second, policy.NextDelay(20), "clamped to the default max delay")
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextDelay(3))
	assert.Equal(t, 10*time.Second, policy.NextDelay(10), "clamped to max delay")
	assert.Equal(t, time.Second, policy.NextDelay(0), "attempts below 1 are clamped")
}
