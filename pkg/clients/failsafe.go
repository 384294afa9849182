package clients

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryConfig bounds the retry policy an Executor applies.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry decides which errors are worth another attempt. Default: all.
	ShouldRetry func(error) bool

	// CircuitBreaker is optional. It sits inside the retry policy so every
	// attempt is counted.
	CircuitBreaker *CircuitBreaker
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(error) bool { return true }
	}
	return cfg
}

// Executor runs calls under a bounded jittered backoff and an optional
// circuit breaker. Callers read and close response bodies inside fn and
// report non-2xx responses as errors, so nothing escapes unclosed.
type Executor struct {
	executor failsafe.Executor[any]
}

func NewExecutor(cfg RetryConfig) *Executor {
	cfg = normalizeRetryConfig(cfg)
	shouldRetry := cfg.ShouldRetry

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && shouldRetry(err)
		}).
		ReturnLastFailure().
		Build()

	if cfg.CircuitBreaker != nil {
		return &Executor{executor: failsafe.With[any](retry, cfg.CircuitBreaker.cb)}
	}
	return &Executor{executor: failsafe.With[any](retry)}
}

// Run executes fn until it succeeds, the policy gives up, or ctx ends.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.executor.WithContext(ctx).RunWithExecution(func(exec failsafe.Execution[any]) error {
		return fn(exec.Context())
	})
}
