package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ThrottledChatModel 包装一个对话模型，所有调用先过令牌桶再透传。
// 瞬态错误（限流、超时）由桶内的退避策略自动重试。
type ThrottledChatModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
}

// NewThrottledChatModel 以给定QPM包装模型。
func NewThrottledChatModel(inner model.ToolCallingChatModel, qpm int) *ThrottledChatModel {
	return &ThrottledChatModel{
		inner:  inner,
		bucket: NewTokenBucket(qpm, 0),
	}
}

// WithRetryPolicy 调整底层令牌桶的重试参数。
func (t *ThrottledChatModel) WithRetryPolicy(baseBackoff time.Duration, maxRetries int) *ThrottledChatModel {
	t.bucket.WithRetryPolicy(baseBackoff, maxRetries)
	return t
}

func (t *ThrottledChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var resp *schema.Message
	err := t.bucket.Do(ctx, func() error {
		var genErr error
		resp, genErr = t.inner.Generate(ctx, messages, options...)
		return genErr
	})
	return resp, err
}

func (t *ThrottledChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := t.bucket.Do(ctx, func() error {
		var streamErr error
		stream, streamErr = t.inner.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 绑定工具后返回的新模型复用同一个令牌桶，
// 绑定前后的调用共享同一份QPM配额。
func (t *ThrottledChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := t.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &ThrottledChatModel{inner: bound, bucket: t.bucket}, nil
}

// NewLLMWithRateLimit 按模型名解析QPM上限并返回限流代理。
// qpmLimits 中有该模型的条目时取其90%作为安全值，否则用 fallbackQPM，
// 两者都缺省时回退到30。
func NewLLMWithRateLimit(inner model.ToolCallingChatModel, modelName string, qpmLimits map[string]int, fallbackQPM int, maxRetries int, baseBackoff time.Duration) model.ToolCallingChatModel {
	qpm := fallbackQPM
	if limit, ok := qpmLimits[modelName]; ok && limit > 0 {
		qpm = limit * 9 / 10
	}
	if qpm <= 0 {
		qpm = 30
	}

	return NewThrottledChatModel(inner, qpm).WithRetryPolicy(baseBackoff, maxRetries)
}
