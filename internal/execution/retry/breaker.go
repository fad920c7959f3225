package retry

import (
	"sync"

	"github.com/vietddude/postforge/internal/core/domain"
)

// DefaultMaxFailures is the breaker threshold when none is configured.
const DefaultMaxFailures = 3

// BreakerState is a point-in-time view of a CircuitBreaker.
type BreakerState struct {
	ConsecutiveFailures int  `json:"consecutive_failures"`
	MaxFailures         int  `json:"max_failures"`
	Tripped             bool `json:"is_tripped"`
}

// CircuitBreaker counts consecutive retryable failures across every step of
// a run. Any success resets the count.
type CircuitBreaker struct {
	mu          sync.Mutex
	consecutive int
	max         int
}

// NewCircuitBreaker creates a closed breaker. max <= 0 uses DefaultMaxFailures.
func NewCircuitBreaker(max int) *CircuitBreaker {
	if max <= 0 {
		max = DefaultMaxFailures
	}
	return &CircuitBreaker{max: max}
}

// RecordSuccess closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutive = 0
	b.mu.Unlock()
}

// RecordFailure counts a retryable failure and returns a CircuitBreakerTripped
// error once the threshold is reached.
func (b *CircuitBreaker) RecordFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.consecutive >= b.max {
		return domain.NewCircuitOpen("circuit breaker tripped after %d consecutive failures", b.consecutive)
	}
	return nil
}

// Tripped reports whether the threshold has been reached.
func (b *CircuitBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive >= b.max
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		ConsecutiveFailures: b.consecutive,
		MaxFailures:         b.max,
		Tripped:             b.consecutive >= b.max,
	}
}
