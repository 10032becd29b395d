package service

import (
	"sync"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/metrics"
	"go.uber.org/zap"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker opens after maxFailures consecutive failures. Once cooldown has passed it
// lets a single trial call through: success closes it, failure reopens it.
type circuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newCircuitBreaker(name string, maxFailures int, cooldown time.Duration, logger *zap.Logger) *circuitBreaker {
	cb := &circuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      logger,
	}
	cb.report()
	return cb
}

// allow reports whether a call may proceed, and the current failure streak.
func (cb *circuitBreaker) allow() (bool, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true, cb.failures
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, cb.failures
		}
		cb.state = breakerHalfOpen
		cb.report()
		cb.logger.Info("circuit breaker half-open, allowing trial call", zap.String("name", cb.name))
		return true, cb.failures
	default:
		// a trial call is already in flight
		return false, cb.failures
	}
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != breakerClosed {
		cb.logger.Info("circuit breaker closed", zap.String("name", cb.name))
	}
	cb.state = breakerClosed
	cb.failures = 0
	cb.report()
}

func (cb *circuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != breakerOpen {
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.name), zap.Int("failures", cb.failures), zap.Duration("cooldown", cb.cooldown))
		}
		cb.state = breakerOpen
		cb.openedAt = cb.now()
		cb.report()
	}
}

func (cb *circuitBreaker) currentState() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// report must be called with mu held.
func (cb *circuitBreaker) report() {
	metrics.ReasoningCircuitState.WithLabelValues(cb.name).Set(float64(cb.state))
}
