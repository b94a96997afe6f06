package infra_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tuya-lights/internal/infra"
)

func fastRetry() infra.RetryConfig {
	return infra.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := infra.WithRetry(context.Background(), fastRetry(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_GivesUp(t *testing.T) {
	attempts := 0
	err := infra.WithRetry(context.Background(), fastRetry(), func() error {
		attempts++
		return errors.New("still failing")
	})

	assert.EqualError(t, err, "still failing")
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_PermanentStopsImmediately(t *testing.T) {
	cause := errors.New("bad signature")
	attempts := 0
	err := infra.WithRetry(context.Background(), fastRetry(), func() error {
		attempts++
		return infra.Permanent(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
	assert.NoError(t, infra.Permanent(nil))
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := infra.WithRetry(ctx, infra.RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, Multiplier: 1}, func() error {
		attempts++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, infra.IsRetryableHTTPStatus(http.StatusTooManyRequests))
	assert.True(t, infra.IsRetryableHTTPStatus(http.StatusBadGateway))
	assert.False(t, infra.IsRetryableHTTPStatus(http.StatusBadRequest))
	assert.False(t, infra.IsRetryableHTTPStatus(http.StatusOK))
}
