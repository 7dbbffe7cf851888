/*
Package resilience provides a circuit breaker for cross-boundary sends.

# Overview

This package implements the circuit breaker pattern so the cross-boundary
router stops hammering a remote scope whose transport keeps failing. An
open circuit surfaces as a scope-unreachable condition, which callers
already handle as a logged warning rather than an error.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Automatic state transitions
- State change callbacks for monitoring
- Thread-safe operations

# Usage

	breaker := resilience.New("scope_canvas-b", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Execute(func() error {
		return transport.Send(scopeID, data)
	})
*/
package resilience
