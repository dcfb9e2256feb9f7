package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("page 3: %w", New(KindRateLimited, "fetch page", "ketogo.app", errors.New("HTTP 429")))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrSourceAuth)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Contains(t, err.Error(), "brand=ketogo.app")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(KindParse, "parse", "", nil), KindParse},
		{"bare sentinel", fmt.Errorf("wrap: %w", ErrPermissionDenied), KindPermissionDenied},
		{"unrelated", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryableOnlyForRateLimit(t *testing.T) {
	assert.True(t, New(KindRateLimited, "", "", nil).IsRetryable())
	assert.False(t, New(KindSourceAuth, "", "", nil).IsRetryable())
	assert.False(t, New(KindParse, "", "", nil).IsRetryable())
}

func TestIsDestination(t *testing.T) {
	assert.True(t, IsDestination(New(KindDestinationNotFound, "resolve", "", nil)))
	assert.True(t, IsDestination(fmt.Errorf("x: %w", ErrPermissionDenied)))
	assert.False(t, IsDestination(New(KindDatabase, "", "", nil)))
}
