package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/query"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreakerMiddleware stops sending statements to the database after
// Threshold consecutive failures, and lets one probe through once
// ResetTimeout has passed. Errors caused by the data or the statement
// itself do not count as failures.
type CircuitBreakerMiddleware struct {
	Threshold    int           // Number of failures before opening
	ResetTimeout time.Duration // Time to wait before half-open

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	halfOpenPassed bool
	now            func() time.Time
	db             *core.DB
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

func (m *CircuitBreakerMiddleware) Name() string {
	return "CircuitBreaker"
}

func (m *CircuitBreakerMiddleware) Init(db *core.DB) error {
	m.db = db
	return nil
}

func (m *CircuitBreakerMiddleware) Shutdown() error {
	return nil
}

// State returns the current state.
func (m *CircuitBreakerMiddleware) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *CircuitBreakerMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		if m.now().Sub(m.lastFailure) > m.ResetTimeout {
			m.transition(StateHalfOpen)
			m.halfOpenPassed = true
		} else {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
	case StateHalfOpen:
		// one probe at a time
		if m.halfOpenPassed {
			m.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		m.halfOpenPassed = true
	}
	m.mu.Unlock()

	res, err := next(ctx, q)

	m.mu.Lock()
	defer m.mu.Unlock()

	if isOutage(ctx, err) {
		m.recordFailure()
	} else {
		m.recordSuccess()
	}

	return res, err
}

// isOutage reports whether err says the database is unhealthy, as
// opposed to rejecting this particular statement.
func isOutage(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var be *query.BuildError
	switch {
	case errors.As(err, &be),
		errors.Is(err, core.ErrDuplicateKey),
		errors.Is(err, core.ErrForeignKey),
		errors.Is(err, core.ErrRecordNotFound),
		errors.Is(err, core.ErrInvalidQuery),
		errors.Is(err, core.ErrInvalidSQL),
		errors.Is(err, core.ErrInvalidModel):
		return false
	}
	return true
}

func (m *CircuitBreakerMiddleware) recordFailure() {
	m.failures++
	m.lastFailure = m.now()

	if m.state == StateClosed {
		if m.failures >= m.Threshold {
			m.transition(StateOpen)
		}
	} else if m.state == StateHalfOpen {
		m.transition(StateOpen)
		m.halfOpenPassed = false
	}
}

func (m *CircuitBreakerMiddleware) recordSuccess() {
	if m.state == StateHalfOpen {
		m.transition(StateClosed)
		m.halfOpenPassed = false
	}
	// failures count consecutively
	m.failures = 0
}

func (m *CircuitBreakerMiddleware) transition(to State) {
	if m.db != nil {
		m.db.Logger().Warn("circuit breaker %s -> %s after %d failures", m.state, to, m.failures)
	}
	m.state = to
}
