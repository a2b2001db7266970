package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	// burst 为2：前两次放行，第三次应被拒
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucketDoRetriesTransientErrors(t *testing.T) {
	tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 3)

	calls := 0
	err := tb.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("openai: 429 Too Many Requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTokenBucketDoStopsOnPermanentError(t *testing.T) {
	tb := NewTokenBucket(6000, 10).WithRetryPolicy(time.Millisecond, 3)

	calls := 0
	err := tb.Do(context.Background(), func() error {
		calls++
		return errors.New("invalid_api_key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "认证类错误不应重试")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("rate_limit_exceeded: slow down")))
	assert.True(t, isRetryableError(errors.New("context deadline exceeded")))
	assert.False(t, isRetryableError(errors.New("model not found")))
	assert.False(t, isRetryableError(nil))
}
