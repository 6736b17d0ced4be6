package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/rpcerr"
)

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), ShelfMovePolicy, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesOnlyTransientFailures(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return rpcerr.NewTransientError(errors.New("unavailable"), "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errors.New("domain rejected: invalid shelf id")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-transient failure must not be retried")
}

func TestMaxRetriesZeroIsASingleCall(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return rpcerr.NewTransientError(errors.New("unavailable"), "")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsAtMaxRetriesExhaustion(t *testing.T) {
	calls := 0
	policy := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return rpcerr.NewTransientError(errors.New("unavailable"), "")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "max_retries+1 total calls on persistent failure")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, ShelfMovePolicy, func(ctx context.Context) error {
		calls++
		return rpcerr.NewTransientError(errors.New("unavailable"), "")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1, "cancellation must not be silently retried past")
}
