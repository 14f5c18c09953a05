// Package resilience provides retry and circuit breaking for calls to
// third-party services (search engine, reputation API, mail servers).
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker stops calling a failing service after Threshold consecutive
// failures, then lets one probe through after Cooldown.
type Breaker struct {
	Name      string
	Threshold int
	Cooldown  time.Duration
	// Trips decides which errors count as failures. Defaults to IsTransient.
	Trips func(err error) bool

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{Name: name, Threshold: threshold, Cooldown: cooldown, now: time.Now}
}

// State returns the current state, reporting half-open once the cooldown elapsed.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions returning a value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, eris.Wrap(ErrCircuitOpen, b.Name)
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.Cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		return true
	case CircuitHalfOpen:
		// one probe at a time
		return false
	}
	return true
}

func (b *Breaker) record(err error) {
	trips := b.Trips
	if trips == nil {
		trips = IsTransient
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil || !trips(err) {
		b.state = CircuitClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.Threshold {
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
}
