package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/liao/guide-bot/internal/metrics"
)

// RetryPolicy 每次调用生成一个新的 BackOff
type RetryPolicy func() backoff.BackOff

// NoRetry 只尝试一次
func NoRetry() RetryPolicy {
	return func() backoff.BackOff { return &backoff.StopBackOff{} }
}

// ExponentialRetry 有上限的指数退避，maxRetries 为额外重试次数
func ExponentialRetry(maxRetries uint64, base, max time.Duration) RetryPolicy {
	if maxRetries == 0 {
		return NoRetry()
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if base > 0 {
			b.InitialInterval = base
		}
		if max > 0 {
			b.MaxInterval = max
		}
		b.MaxElapsedTime = 0
		return backoff.WithMaxRetries(b, maxRetries)
	}
}

// newBreaker 连续失败 failures 次后打开；failures 为 0 时不熔断
func newBreaker(name string, failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker[struct{}] {
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		// 调用方取消不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
