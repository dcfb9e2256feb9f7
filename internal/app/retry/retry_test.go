package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/retry"
)

func fastConfig() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesRateLimit(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.KindRateLimited, "fetch", "", errors.New("HTTP 429"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	want := apperrors.New(apperrors.KindSourceAuth, "fetch", "", errors.New("HTTP 401"))
	err := retry.Do(context.Background(), fastConfig(), func() error {
		calls++
		return want
	})
	assert.Same(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(), func() error {
		calls++
		return apperrors.New(apperrors.KindRateLimited, "fetch", "", nil)
	})
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, 4, calls)
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := &retry.Config{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	err := retry.Do(ctx, cfg, func() error {
		return apperrors.New(apperrors.KindRateLimited, "fetch", "", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
