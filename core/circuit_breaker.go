package core

import (
	"context"
	"time"
)

// CircuitBreaker protects a stage or external call from cascading
// failures by failing fast once an error threshold is crossed, and
// probing for recovery with a half-open window afterward.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error
	GetState() string
	GetMetrics() map[string]interface{}
	Reset()
	CanExecute() bool
}

// CircuitBreakerConfig is the Supervisor-facing configuration for a
// single stage's circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// CircuitBreakerParams bundles a breaker's identity, configuration and
// optional observability collaborators.
type CircuitBreakerParams struct {
	Name      string
	Config    CircuitBreakerConfig
	Logger    Logger
	Telemetry Telemetry
}

// DefaultCircuitBreakerParams returns parameters tuned for a single
// pipeline stage: five consecutive failures trip the breaker, thirty
// seconds before the next probe.
func DefaultCircuitBreakerParams(name string) CircuitBreakerParams {
	return CircuitBreakerParams{
		Name: name,
		Config: CircuitBreakerConfig{
			Enabled:          true,
			Threshold:        5,
			Timeout:          30 * time.Second,
			HalfOpenRequests: 3,
		},
	}
}
