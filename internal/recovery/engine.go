package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskforge/internal/domain"
)

// Strategy is the action chosen for one failed execution attempt.
type Strategy string

const (
	StrategyRetry        Strategy = "retry"
	StrategyFallback     Strategy = "fallback"
	StrategyCircuitBreak Strategy = "circuit_break"
	StrategyNotify       Strategy = "notify"
	StrategyAbort        Strategy = "abort"
)

// Config sets the circuit-breaker parameters.
type Config struct {
	// BreakerThreshold is the consecutive-failure count that opens a
	// circuit. Defaults to 5.
	BreakerThreshold int

	// ResetTimeout is how long an open circuit stays open before a
	// probe attempt is let through. Defaults to 60s.
	ResetTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{BreakerThreshold: 5, ResetTimeout: time.Minute}
	if c == nil {
		return out
	}
	if c.BreakerThreshold > 0 {
		out.BreakerThreshold = c.BreakerThreshold
	}
	if c.ResetTimeout > 0 {
		out.ResetTimeout = c.ResetTimeout
	}
	return out
}

// Outcome is the recovery decision for one failed attempt. Status is
// the effective status of the attempt; ShouldRetry means the scheduler
// should re-queue the task after RetryDelay.
type Outcome struct {
	ShouldRetry    bool
	RetryDelay     time.Duration
	Status         domain.Status
	ErrorMessage   string
	FallbackResult any
	ErrorType      ErrorType
	Strategy       Strategy
}

// Engine classifies execution errors and chooses recovery strategies.
// Circuit state is keyed by (taskType, errorType), independent of any
// single task, so it guards against systemic failures of a task class.
type Engine struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
	log      zerolog.Logger
}

func NewEngine(cfg *Config, log zerolog.Logger) *Engine {
	return &Engine{
		circuits: make(map[string]*circuit),
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "recovery").Logger(),
	}
}

// DecideStrategy picks a strategy for the given error type and attempt
// number (1-based execution count). The retry cap wins over everything
// else; an open circuit short-circuits to fallback until its reset
// timeout elapses, at which point it flips to half-open and the
// per-error-type rules apply again.
func (e *Engine) DecideStrategy(errType ErrorType, task domain.Task, attempt int) Strategy {
	if attempt > task.MaxRetries {
		return StrategyAbort
	}

	e.mu.Lock()
	if c, ok := e.circuits[circuitKey(task.Type, errType)]; ok && c.state == CircuitOpen {
		if time.Since(c.lastFailure) < e.cfg.ResetTimeout {
			e.mu.Unlock()
			return StrategyFallback
		}
		c.state = CircuitHalfOpen
		e.log.Info().Str("task_type", task.Type).Str("error_type", string(errType)).
			Msg("circuit half-open, probing")
	}
	e.mu.Unlock()

	switch errType {
	case ErrorTemporary, ErrorTimeout, ErrorResource:
		return StrategyRetry
	case ErrorNotFound, ErrorValidation, ErrorPermanent:
		return StrategyAbort
	case ErrorAuthorization:
		if attempt <= 1 {
			return StrategyRetry
		}
		return StrategyNotify
	default:
		if attempt <= 2 {
			return StrategyRetry
		}
		return StrategyAbort
	}
}

// UpdateCircuit records the result of an attempt against the circuit
// for (taskType, errType). On failure it returns true if this failure
// tripped the breaker open.
func (e *Engine) UpdateCircuit(taskType string, errType ErrorType, success bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := circuitKey(taskType, errType)
	c, ok := e.circuits[key]
	if !ok {
		if success {
			return false
		}
		c = &circuit{}
		e.circuits[key] = c
	}

	if success {
		c.recordSuccess()
		return false
	}
	opened := c.recordFailure(e.cfg.BreakerThreshold, time.Now())
	if opened {
		e.log.Warn().Str("task_type", taskType).Str("error_type", string(errType)).
			Int("failures", c.failures).Msg("circuit opened")
	}
	return opened
}

// RecordSuccess is called after a successful execution whose previous
// attempt had been classified, closing a half-open circuit.
func (e *Engine) RecordSuccess(task domain.Task, errType ErrorType) {
	e.UpdateCircuit(task.Type, errType, true)
}

// State returns the breaker state for a (taskType, errorType) pair.
func (e *Engine) State(taskType string, errType ErrorType) CircuitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.circuits[circuitKey(taskType, errType)]; ok {
		return c.state
	}
	return CircuitClosed
}

// HandleTaskError orchestrates recovery for one failed attempt:
// classify, decide, then carry out the strategy. A retry whose circuit
// update trips the breaker is downgraded to a circuit break and the
// task fails instead of retrying.
func (e *Engine) HandleTaskError(task domain.Task, execErr error, attempt int, cfg *domain.RetryConfig) Outcome {
	errType := Classify(execErr)
	strategy := e.DecideStrategy(errType, task, attempt)

	if strategy == StrategyRetry {
		if opened := e.UpdateCircuit(task.Type, errType, false); opened {
			strategy = StrategyCircuitBreak
		}
	}

	out := Outcome{
		Status:       domain.StatusFailed,
		ErrorMessage: execErr.Error(),
		ErrorType:    errType,
		Strategy:     strategy,
	}

	switch strategy {
	case StrategyRetry:
		out.ShouldRetry = true
		out.RetryDelay = Backoff(attempt, cfg)

	case StrategyFallback:
		if cfg == nil || cfg.Fallback == nil {
			out.ErrorMessage = fmt.Sprintf("circuit open for %s/%s, no fallback configured: %v",
				task.Type, errType, execErr)
			break
		}
		res, err := cfg.Fallback(task)
		if err != nil {
			out.ErrorMessage = fmt.Sprintf("%v: %v (after %v)", domain.ErrFallbackFailed, err, execErr)
			break
		}
		out.Status = domain.StatusCompleted
		out.FallbackResult = res
		out.ErrorMessage = ""

	case StrategyNotify:
		if cfg != nil && cfg.Notify != nil {
			cfg.Notify(task, execErr)
		}

	case StrategyCircuitBreak:
		out.ErrorMessage = fmt.Sprintf("circuit opened for %s/%s: %v", task.Type, errType, execErr)

	case StrategyAbort:
		// Report the failure as-is.
	}

	e.log.Debug().Str("task_id", task.ID).Str("task_type", task.Type).
		Str("error_type", string(errType)).Str("strategy", string(strategy)).
		Int("attempt", attempt).Msg("recovery decision")
	return out
}
