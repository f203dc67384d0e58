package recovery

import (
	"context"
	"errors"
	"strings"
)

// ErrorType is the broad category assigned to an execution error.
// Classification drives the recovery strategy for the attempt.
type ErrorType string

const (
	ErrorTemporary     ErrorType = "temporary"
	ErrorPermanent     ErrorType = "permanent"
	ErrorTimeout       ErrorType = "timeout"
	ErrorResource      ErrorType = "resource_constraint"
	ErrorValidation    ErrorType = "validation"
	ErrorAuthorization ErrorType = "authorization"
	ErrorNotFound      ErrorType = "not_found"
	ErrorUnknown       ErrorType = "unknown"
)

// Classify derives an ErrorType from an execution error, matching
// case-insensitive substrings of the message. Executors wrap provider
// and transport errors whose text is the only signal available, so the
// rules key off the vocabulary those errors actually use.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrorTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "temporary") || strings.Contains(msg, "unavailable"):
		return ErrorTemporary
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return ErrorNotFound
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return ErrorAuthorization
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return ErrorValidation
	case strings.Contains(msg, "memory") || strings.Contains(msg, "cpu") ||
		strings.Contains(msg, "resource"):
		return ErrorResource
	case strings.Contains(msg, "permanent") || strings.Contains(msg, "fatal"):
		return ErrorPermanent
	}
	return ErrorUnknown
}
