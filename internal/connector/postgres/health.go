package postgres

import (
	"time"
)

// circuitState mirrors the teacher's CircuitBreakerState
// (internal/database/postgres/retry.go), reused here per connector so a
// string of failed Execute calls stops accepting new ops before the pool
// itself saturates. Health probes do not feed the breaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

type circuitBreaker struct {
	state        circuitState
	failureCount int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

func (c *circuitBreaker) allow() bool {
	if c.state != circuitOpen {
		return true
	}
	if time.Since(c.lastFailure) > c.resetTimeout {
		c.state = circuitHalfOpen
		return true
	}
	return false
}

func (c *circuitBreaker) recordFailure() {
	c.failureCount++
	c.lastFailure = time.Now()
	if c.failureCount >= c.maxFailures {
		c.state = circuitOpen
	}
}

func (c *circuitBreaker) recordSuccess() {
	c.failureCount = 0
	c.state = circuitClosed
}

func (c *circuitBreaker) isOpen() bool {
	return c.state == circuitOpen
}
