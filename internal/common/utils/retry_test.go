package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig() RetryConfig {
	config := DefaultRetryConfig()
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	return config
}

func TestRetryWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	attempts := 0
	testError := errors.New("persistent error")

	err := RetryWithBackoff(context.Background(), fastConfig(), func() error {
		attempts++
		return testError
	})

	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, testError)
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	config := fastConfig()
	fatal := errors.New("fatal")
	config.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }

	attempts := 0
	err := RetryWithBackoff(context.Background(), config, func() error {
		attempts++
		return fatal
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, fatal, err)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := RetryWithBackoff(ctx, config, func() error {
		attempts++
		return errors.New("down")
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestRetryWithBackoff_ZeroAttempts(t *testing.T) {
	config := fastConfig()
	config.MaxAttempts = 0

	attempts := 0
	_ = RetryWithBackoff(context.Background(), config, func() error {
		attempts++
		return errors.New("down")
	})
	assert.Equal(t, 1, attempts)
}
