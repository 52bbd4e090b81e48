package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/gamerec/internal/metrics"
)

const breakerName = "openrouter"

// BreakerSettings controls when the model client stops calling upstream.
type BreakerSettings struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, Timeout: 30 * time.Second}
}

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker[Completion] {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultBreakerSettings().Timeout
	}
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[Completion](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		// A caller giving up is not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("model circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
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
