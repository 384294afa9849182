package clients

import (
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Call while the breaker rejects traffic.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker in logs and metrics
	Name string

	// MaxRequests is the number of successful probes needed in half-open
	// state before closing again. Default: 1
	MaxRequests uint32

	// Timeout is how long the circuit stays open before probing. Default: 15s
	Timeout time.Duration

	// FailureRatio trips the circuit once MinRequests have been observed.
	// Default: 0.5
	FailureRatio float64

	// MinRequests is the sample size the ratio is evaluated over. Default: 10
	MinRequests uint32

	// IsFailure decides which errors count against the circuit. Callers use
	// it to keep caller mistakes (a rejected token, a bad payload) from
	// opening the breaker on a healthy upstream. Default: every error.
	IsFailure func(error) bool

	Logger logging.Logger

	OnStateChange func(name string, from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         "default",
		MaxRequests:  1,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

// CircuitBreaker wraps failsafe-go's circuit breaker with our config interface.
type CircuitBreaker struct {
	cb   circuitbreaker.CircuitBreaker[any]
	name string
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "circuit-breaker"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}

	// e.g. 50% of 10 requests = 5 failures
	failureThreshold := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	builder := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(failureThreshold, uint(cfg.MinRequests)).
		WithDelay(cfg.Timeout).
		WithSuccessThreshold(uint(cfg.MaxRequests))

	if cfg.IsFailure != nil {
		isFailure := cfg.IsFailure
		builder = builder.HandleIf(func(_ any, err error) bool {
			return err != nil && isFailure(err)
		})
	}

	name := cfg.Name
	builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
		from := convertState(event.OldState)
		to := convertState(event.NewState)

		RecordCircuitBreakerTransition(name, from, to)

		if cfg.Logger != nil {
			cfg.Logger.WithFields(logging.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("circuit breaker state change")
		}
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(name, from, to)
		}
	})

	return &CircuitBreaker{
		cb:   builder.Build(),
		name: name,
	}
}

func convertState(state circuitbreaker.State) CircuitBreakerState {
	switch state {
	case circuitbreaker.ClosedState:
		return StateClosed
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// Call executes fn through the circuit breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	return failsafe.With[any](cb.cb).Run(fn)
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	return convertState(cb.cb.State())
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) IsOpen() bool {
	return cb.cb.IsOpen()
}
