package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval     time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval" mapstructure:"max_interval"`
	BackoffFactor       float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	RandomizationFactor float64       `json:"randomization_factor" mapstructure:"randomization_factor"`
	EnableJitter        bool          `json:"enable_jitter" mapstructure:"enable_jitter"`
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = &RetryConfig{
	MaxAttempts:         5,
	InitialInterval:     100 * time.Millisecond,
	MaxInterval:         30 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.1,
	EnableJitter:        true,
}

// NetworkRetryConfig 注册表下载、区块拉取等网络请求
var NetworkRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     500 * time.Millisecond,
	MaxInterval:         10 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
	EnableJitter:        true,
}

// PersistenceRetryConfig 回合记录写入，次数少、间隔短，不能拖住回合节奏
var PersistenceRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     50 * time.Millisecond,
	MaxInterval:         time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.15,
	EnableJitter:        true,
}

// RetryableError 可重试错误接口，EngineError 实现了它
type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	err       error
	retryable bool
}

func (r *retryableError) Error() string     { return r.err.Error() }
func (r *retryableError) IsRetryable() bool { return r.retryable }
func (r *retryableError) Unwrap() error     { return r.err }

// NewRetryableError 标记错误是否可重试
func NewRetryableError(err error, retryable bool) RetryableError {
	return &retryableError{err: err, retryable: retryable}
}

// 消息中出现即视为瞬时故障
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
	"bad gateway",
	"database is locked",
	"deadlock detected",
	"too many connections",
}

// IsRetryableError 判断是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = DefaultRetryConfig
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExecuteFunc 执行函数类型
type ExecuteFunc func() error

// Execute 执行重试逻辑
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	_, err := Do(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do 带返回值的重试
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := r.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return zero, err
		}

		if attempt == attempts {
			r.logger.Warnf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return zero, fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

// calculateDelay 计算延迟时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}

	if r.config.EnableJitter {
		r.mu.Lock()
		f := r.rand.Float64()
		r.mu.Unlock()

		jitter := delay * r.config.RandomizationFactor
		delay = delay - jitter + f*jitter*2
		if delay < 0 {
			delay = float64(r.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}

// RetryNetworkOperation 网络操作重试
func RetryNetworkOperation(ctx context.Context, operation string, fn ExecuteFunc, logger *logrus.Logger) error {
	return NewRetrier(NetworkRetryConfig, logger).Execute(ctx, operation, fn)
}
