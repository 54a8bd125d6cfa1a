// Package retry wraps HTTP round trips in an explicit, injectable
// retry-with-backoff policy. Only transient failures are retried: network
// errors and the statuses accepted by Policy.Retryable (502/503/504 by
// default). Everything else is returned to the caller on the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted 表示重试预算耗尽，最后一次失败原因被包装在内。
var ErrExhausted = errors.New("retries exhausted")

const maxBackoff = 60 * time.Second

// Policy 描述一次请求的重试策略；零值 Policy 不重试。
type Policy struct {
	// MaxRetries 为首次请求之外的最大重试次数。
	MaxRetries int
	// Backoff 每次调用 Do 时生成一份新的退避序列。
	Backoff func() goretry.Backoff
	// Retryable 判断状态码是否值得重试。
	Retryable func(status int) bool
	// OnRetry 在每次决定重试前调用，可用于日志。
	OnRetry func(attempt int, status int, err error)
}

// DefaultPolicy 返回指数退避（base, 2*base, 4*base ... 上限 60s）且仅重试 502/503/504 的策略。
func DefaultPolicy(maxRetries int, base time.Duration) Policy {
	if base <= 0 {
		base = time.Second
	}
	return Policy{
		MaxRetries: maxRetries,
		Backoff: func() goretry.Backoff {
			return goretry.WithCappedDuration(maxBackoff, goretry.NewExponential(base))
		},
		Retryable: GatewayStatus,
	}
}

// Immediate 返回不等待的退避序列，主要供测试注入。
func Immediate() goretry.Backoff {
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
}

// GatewayStatus 仅对网关类错误返回 true。
func GatewayStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusError carries the last retryable status seen before giving up.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Do 执行 send，必要时按策略重试。返回的响应 Body 由调用方关闭。
func (p Policy) Do(ctx context.Context, send func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	backoff := p.schedule()
	attempts := 0
	var resp *http.Response

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := send(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if !isTransientNetError(err) {
				return err
			}
			p.notify(attempts, 0, err)
			return goretry.RetryableError(err)
		}
		if p.Retryable != nil && p.Retryable(r.StatusCode) {
			r.Body.Close()
			statusErr := &StatusError{Status: r.StatusCode}
			p.notify(attempts, r.StatusCode, statusErr)
			return goretry.RetryableError(statusErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		if attempts > p.MaxRetries && isRetryCause(err) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
		}
		return nil, err
	}
	return resp, nil
}

func (p Policy) schedule() goretry.Backoff {
	var base goretry.Backoff
	if p.Backoff != nil {
		base = p.Backoff()
	} else {
		base = Immediate()
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), base)
}

func (p Policy) notify(attempt, status int, err error) {
	if p.OnRetry != nil && attempt <= p.MaxRetries {
		p.OnRetry(attempt, status, err)
	}
}

func isRetryCause(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) || isTransientNetError(err)
}

// isTransientNetError 判断网络错误是否可能在重试后恢复。
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	}
	return false
}
