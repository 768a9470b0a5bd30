package source

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/dextrack/chainsight/internal/common"
	"github.com/dextrack/chainsight/pkg/config"
	"github.com/stretchr/testify/require"
)

func testRetryConfig(attempts int) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2.0,
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil", err: nil, retryable: false},
		{name: "stale head", err: fmt.Errorf("%w: got 9, previously saw 10", ErrStaleHead), retryable: true},
		{name: "not found", err: ErrNotFound, retryable: false},
		{name: "remote inconsistent", err: &RemoteInconsistentError{Height: 5, RemoteHead: 10}, retryable: false},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "connection reset", err: syscall.ECONNRESET, retryable: true},
		{name: "timeout string", err: errors.New("request timeout"), retryable: true},
		{name: "deadline exceeded string", err: errors.New("context deadline exceeded"), retryable: true},
		{name: "rate limited", err: errors.New("429 too many requests"), retryable: true},
		{name: "bad gateway", err: errors.New("502 bad gateway"), retryable: true},
		{name: "service unavailable", err: errors.New("service unavailable"), retryable: true},
		{name: "plain failure", err: errors.New("execution reverted"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, retryableError(tt.err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &config.RetryConfig{
		InitialBackoff:    common.NewDuration(100 * time.Millisecond),
		MaxBackoff:        common.NewDuration(time.Second),
		BackoffMultiplier: 2.0,
	}

	require.Zero(t, calculateBackoff(1, cfg), "first attempt has no backoff")

	// With ±25% jitter: attempt 2 is 100ms ±25ms
	for i := 0; i < 50; i++ {
		backoff := calculateBackoff(2, cfg)
		require.GreaterOrEqual(t, backoff, 75*time.Millisecond)
		require.LessOrEqual(t, backoff, 125*time.Millisecond)
	}

	// Large attempts are capped at MaxBackoff plus jitter
	for i := 0; i < 50; i++ {
		backoff := calculateBackoff(20, cfg)
		require.LessOrEqual(t, backoff, 1250*time.Millisecond)
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(5), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(5), "test", func() error {
		calls++
		return ErrNotFound
	})

	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryWithBackoff_PreservesRemoteInconsistent(t *testing.T) {
	wrapped := &RemoteInconsistentError{Height: 5, RemoteHead: 10}

	err := retryWithBackoff(context.Background(), testRetryConfig(5), "test", func() error {
		return wrapped
	})

	var inconsistent *RemoteInconsistentError
	require.ErrorAs(t, err, &inconsistent)
	require.Equal(t, uint64(5), inconsistent.Height)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(3), "test", func() error {
		calls++
		return errors.New("request timeout")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Contains(t, err.Error(), "all 3 attempts")
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, testRetryConfig(5), "test", func() error {
		return errors.New("request timeout")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithBackoff_NilConfigRunsOnce(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), nil, "test", func() error {
		calls++
		return errors.New("request timeout")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}
