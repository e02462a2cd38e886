package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 描述一类调用的重试行为：最多尝试 Attempts 次，
// 第 n 次失败后按 Backoff 序列等待（超出序列长度时复用最后一个值）。
// 柜台登录、行情拉取、对账查询共用同一套机制，参数各自配置。
type RetryPolicy struct {
	Attempts int
	Backoff  []time.Duration
}

// NewRetryPolicy 从配置的秒数序列构造重试策略
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	backoff := make([]time.Duration, 0, len(cfg.BackoffSeconds))
	for _, s := range cfg.BackoffSeconds {
		backoff = append(backoff, time.Duration(s)*time.Second)
	}
	return RetryPolicy{Attempts: cfg.Attempts, Backoff: backoff}
}

// Call 执行 fn，失败则按策略退避重试，直到成功或次数耗尽。
// ctx 取消时立即返回，不再等待剩余退避时间。
func (p RetryPolicy) Call(ctx context.Context, operation string, fn func() error) error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry: attempts must be >= 1")
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.delayFor(attempt)
		Logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.Attempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, p.Attempts, lastErr)
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}
