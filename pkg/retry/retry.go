// Package retry runs an operation a bounded number of times with exponential backoff.
//
// Used for transient cloud API failures and for SSH connection attempts against
// a freshly launched head node whose daemon may not be listening yet.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/eventual-inc/daft-launcher/pkg/errors"
)

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var (
	// ProviderPolicy is used for Transient provider errors.
	ProviderPolicy = Policy{Attempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 16 * time.Second}
	// SSHPolicy is used while a session is Connecting.
	SSHPolicy = Policy{Attempts: 5, BaseDelay: 1 * time.Second, MaxDelay: 8 * time.Second}
)

// Delay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	return min(p.BaseDelay*time.Duration(1<<(attempt-1)), p.MaxDelay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func DefaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner carries the policy and the injectable pieces of a retry loop.
type Runner struct {
	Policy    Policy
	Retryable func(error) bool
	Sleep     SleepFunc
	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
// The last error is returned unchanged so callers can inspect its kind.
func (r Runner) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = DefaultSleep
	}
	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || r.Retryable == nil || !r.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		wait := r.Policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, wait)
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return err
}

// IsTransientNetworkError matches transport-level failures by message, for errors that
// arrive without a typed cause (subprocess output, wrapped dial errors).
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	patterns := []string{
		"connection reset by peer", "connection refused",
		"i/o timeout", "TLS handshake timeout",
		"unexpected EOF", "no route to host",
		"network is unreachable", "host is down",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
