package recovery

import (
	"math"
	"math/rand"
	"time"

	"taskforge/internal/domain"
)

// Backoff defaults applied when a task carries no retry config.
const (
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = time.Minute
	DefaultBackoffFactor = 2.0
)

// Backoff computes the delay before retry attempt number attempt
// (1-based): min(maxDelay, initialDelay * factor^(attempt-1)), then
// jittered uniformly within [0.85, 1.15] to avoid synchronized retry
// storms across tasks of the same type.
func Backoff(attempt int, cfg *domain.RetryConfig) time.Duration {
	initial, max, factor := DefaultInitialDelay, DefaultMaxDelay, DefaultBackoffFactor
	if cfg != nil {
		if cfg.InitialDelay > 0 {
			initial = cfg.InitialDelay
		}
		if cfg.MaxDelay > 0 {
			max = cfg.MaxDelay
		}
		if cfg.BackoffFactor > 0 {
			factor = cfg.BackoffFactor
		}
	}
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if d > max || d < 0 { // negative on float overflow
		d = max
	}
	jitter := 0.85 + 0.3*rand.Float64()
	return time.Duration(float64(d) * jitter)
}
