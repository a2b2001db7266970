package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// retryableFragments 是OpenAI类服务瞬态故障在错误消息里的典型片段。
// 命中任意一个即认为值得退避重试。
var retryableFragments = []string{
	"429",
	"Too Many Requests",
	"rate_limit_exceeded",
	"insufficient_quota",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"no such host",
	"EOF",
}

// TokenBucket 按QPM平滑放行请求的令牌桶。
// 桶初始是满的，允许短时突发，之后以 ratePerSec 匀速补充。
type TokenBucket struct {
	mu         sync.Mutex
	ratePerSec float64
	burst      float64
	available  float64
	lastRefill time.Time

	baseBackoff time.Duration
	maxRetries  int
}

// NewTokenBucket 创建令牌桶。burst<=0 时取QPM的一半（至少1）。
func NewTokenBucket(qpm int, burst int) *TokenBucket {
	if burst <= 0 {
		burst = qpm / 2
	}
	if burst <= 0 {
		burst = 1
	}

	return &TokenBucket{
		ratePerSec:  float64(qpm) / 60.0,
		burst:       float64(burst),
		available:   float64(burst),
		lastRefill:  time.Now(),
		baseBackoff: time.Second,
		maxRetries:  3,
	}
}

// WithRetryPolicy 覆盖默认的退避基准与最大重试次数。
func (tb *TokenBucket) WithRetryPolicy(baseBackoff time.Duration, maxRetries int) *TokenBucket {
	if baseBackoff > 0 {
		tb.baseBackoff = baseBackoff
	}
	if maxRetries > 0 {
		tb.maxRetries = maxRetries
	}
	return tb
}

// take 尝试消耗一个令牌。失败时返回建议的等待时长。
// 调用方必须持有 tb.mu。
func (tb *TokenBucket) take() (bool, time.Duration) {
	now := time.Now()
	tb.available += now.Sub(tb.lastRefill).Seconds() * tb.ratePerSec
	if tb.available > tb.burst {
		tb.available = tb.burst
	}
	tb.lastRefill = now

	if tb.available >= 1 {
		tb.available--
		return true, 0
	}
	return false, time.Duration((1 - tb.available) / tb.ratePerSec * float64(time.Second))
}

// Allow 非阻塞地判断当前是否可以放行一个请求。
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	ok, _ := tb.take()
	return ok
}

// Wait 阻塞直到取得令牌或上下文取消。
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		ok, wait := tb.take()
		tb.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Do 在限流下执行 fn，对瞬态错误做指数退避重试。
// 不可重试的错误立即原样返回。
func (tb *TokenBucket) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= tb.maxRetries; attempt++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}

		if err = fn(); err == nil {
			return nil
		}
		if !isRetryableError(err) || attempt == tb.maxRetries {
			return err
		}

		backoff := tb.baseBackoff << uint(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
