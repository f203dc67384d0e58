package recovery

import "time"

// CircuitState is the breaker state for one (taskType, errorType) pair.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "closed"
}

// circuit tracks consecutive failures for a (taskType, errorType)
// pair. Shared across all tasks of that combination.
type circuit struct {
	failures    int
	lastFailure time.Time
	state       CircuitState
}

func circuitKey(taskType string, errType ErrorType) string {
	return taskType + "|" + string(errType)
}

// recordFailure counts one failure and returns true if this failure
// tripped the breaker open. A failure while half-open re-opens the
// breaker and restarts the reset timer.
func (c *circuit) recordFailure(threshold int, now time.Time) bool {
	c.failures++
	c.lastFailure = now
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		return true
	}
	if c.state == CircuitClosed && c.failures >= threshold {
		c.state = CircuitOpen
		return true
	}
	return false
}

// recordSuccess resets the breaker. One success while half-open closes
// it; any success zeroes the consecutive-failure counter.
func (c *circuit) recordSuccess() {
	c.failures = 0
	if c.state == CircuitHalfOpen {
		c.state = CircuitClosed
	}
}
