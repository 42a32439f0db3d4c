// Package circuitbreaker provides circuit breaker functionality using Sony's gobreaker
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the number of probes allowed while half-open
	MaxConcurrentRequests int
}

// DefaultConfig returns the configuration used for upstream HTTP services
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// GoBreakerAdapter wraps Sony's gobreaker
type GoBreakerAdapter struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// NewGoBreaker creates a new circuit breaker. An invalid config falls back to DefaultConfig.
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "name", Value: name},
		)
		config = DefaultConfig()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller cancellation and client-side problems say nothing
			// about upstream health.
			if stderrors.Is(err, context.Canceled) {
				return true
			}
			return errors.IsType(err, errors.ErrTypeValidation)
		},
	}

	return &GoBreakerAdapter{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the breaker name
func (g *GoBreakerAdapter) Name() string {
	return g.name
}

// Execute runs fn within the circuit breaker. When the breaker is open fn is
// not called and an internal error wrapping gobreaker.ErrOpenState is returned.
func (g *GoBreakerAdapter) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' is open", g.name), err)
	}
	if stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.InternalError(fmt.Sprintf("circuit breaker '%s' has too many requests", g.name), err)
	}
	return err
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry hands out one breaker per upstream name
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*GoBreakerAdapter
	config   Config
	logger   logging.Logger
}

// NewRegistry creates a registry whose breakers share config
func NewRegistry(config Config, logger logging.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*GoBreakerAdapter),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *GoBreakerAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewGoBreaker(name, r.config, r.logger)
	r.breakers[name] = b
	return b
}
