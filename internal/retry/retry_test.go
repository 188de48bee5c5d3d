package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
		Retryable:   retry.Transient,
	}
}

func TestTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil", err: nil, retryable: false},
		{name: "timeout", err: errors.New("dial timeout waiting for ringing"), retryable: true},
		{name: "rate limit", err: errors.New("provider rate limit exceeded"), retryable: true},
		{name: "gateway", err: errors.New("unexpected status 503"), retryable: true},
		{name: "socket", err: errors.New("ECONNRESET on socket"), retryable: true},
		{name: "temporary", err: errors.New("temporarily unavailable"), retryable: true},
		{name: "terminal", err: errors.New("no transcript captured from the live call"), retryable: false},
		{name: "bad extraction", err: errors.New("model returned empty summary"), retryable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.retryable, retry.Transient(tt.err))
		})
	}
}

func TestDo_succeedsFirstAttempt(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := retry.Do(context.Background(), testPolicy(), nil, func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDo_retriesTransientUntilSuccess(t *testing.T) {
	t.Parallel()
	attempts := 0
	var retriedAt []int
	onRetry := func(_ context.Context, attempt int) error {
		retriedAt = append(retriedAt, attempt)
		return nil
	}
	err := retry.Do(context.Background(), testPolicy(), onRetry, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("network unreachable")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []int{2, 3}, retriedAt)
}

func TestDo_terminalErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	terminal := errors.New("call declined by contact")
	err := retry.Do(context.Background(), testPolicy(), nil, func(context.Context) error {
		attempts++
		return terminal
	})
	require.ErrorIs(t, err, terminal)
	require.Equal(t, 1, attempts)
}

func TestDo_exhaustsAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	transient := errors.New("dial timeout")
	err := retry.Do(context.Background(), testPolicy(), nil, func(context.Context) error {
		attempts++
		return transient
	})
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, attempts)
}

func TestDo_onRetryErrorAborts(t *testing.T) {
	t.Parallel()
	attempts := 0
	storeDown := errors.New("store unavailable")
	onRetry := func(context.Context, int) error { return storeDown }
	err := retry.Do(context.Background(), testPolicy(), onRetry, func(context.Context) error {
		attempts++
		return errors.New("network unreachable")
	})
	require.ErrorIs(t, err, storeDown)
	require.Equal(t, 1, attempts)
}

func TestDo_cancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Minute },
		Retryable:   retry.Transient,
	}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := retry.Do(ctx, policy, nil, func(context.Context) error {
		attempts++
		return errors.New("network unreachable")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()
	backoff := retry.ExponentialBackoff(time.Second)
	require.Equal(t, time.Second, backoff(2))
	require.Equal(t, 2*time.Second, backoff(3))
	require.Equal(t, 4*time.Second, backoff(4))
}
