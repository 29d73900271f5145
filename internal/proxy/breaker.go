package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// API is the set of calls a Breaker protects.
type API interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Respond(ctx context.Context, req ResponsesRequest) (json.RawMessage, error)
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	// MaxFailures consecutive failures trip the circuit. Default 3.
	MaxFailures uint32
	// Timeout is how long the circuit stays open. Default 30s.
	Timeout time.Duration
	// HalfOpenMaxRequests are let through while the circuit is half-open. Default 1.
	HalfOpenMaxRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = 1
	}
	return c
}

// Breaker wraps an API with a circuit breaker. The backend and the lookup
// provider each get their own Breaker so one failing does not block the other.
type Breaker struct {
	next API
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. name shows up in state-change logs.
func NewBreaker(name string, next API, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// Complete forwards to the wrapped API unless the circuit is open.
func (b *Breaker) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Completion), nil
}

// Respond forwards to the wrapped API unless the circuit is open.
func (b *Breaker) Respond(ctx context.Context, req ResponsesRequest) (json.RawMessage, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.Respond(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
