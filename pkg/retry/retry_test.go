package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func recordingSleep(waits *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDelayIsExponentialAndCapped(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(64))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	calls := 0
	r := Runner{
		Policy:    SSHPolicy,
		Retryable: IsTransientNetworkError,
		Sleep:     recordingSleep(&waits),
	}

	err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("permission denied")
	calls := 0
	r := Runner{Policy: SSHPolicy, Retryable: IsTransientNetworkError, Sleep: recordingSleep(&[]time.Duration{})}

	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterPolicyAttempts(t *testing.T) {
	calls := 0
	retried := 0
	r := Runner{
		Policy:    Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Retryable: func(error) bool { return true },
		Sleep:     recordingSleep(&[]time.Duration{}),
		OnRetry:   func(int, error, time.Duration) { retried++ },
	}

	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)
}

func TestDoHonorsCancelledSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Runner{Policy: SSHPolicy, Retryable: func(error) bool { return true }}

	calls := 0
	err := r.Do(ctx, func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestIsTransientNetworkError(t *testing.T) {
	assert.True(t, IsTransientNetworkError(errors.New("dial tcp 1.2.3.4:22: connect: connection refused")))
	assert.True(t, IsTransientNetworkError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransientNetworkError(errors.New("ssh: unable to authenticate")))
	assert.False(t, IsTransientNetworkError(nil))
}
