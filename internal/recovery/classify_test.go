package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"timeout word", errors.New("request timeout after 30s"), ErrorTimeout},
		{"deadline word", errors.New("Deadline exceeded"), ErrorTimeout},
		{"context deadline", context.DeadlineExceeded, ErrorTimeout},
		{"429", errors.New("HTTP 429 error: too many requests"), ErrorTemporary},
		{"rate limit", errors.New("provider rate limit reached"), ErrorTemporary},
		{"unavailable", errors.New("service unavailable"), ErrorTemporary},
		{"404", errors.New("HTTP 404 error"), ErrorNotFound},
		{"not found", errors.New("model Not Found"), ErrorNotFound},
		{"401", errors.New("HTTP 401 error"), ErrorAuthorization},
		{"403", errors.New("HTTP 403 error"), ErrorAuthorization},
		{"unauthorized", errors.New("unauthorized key"), ErrorAuthorization},
		{"forbidden", errors.New("access forbidden"), ErrorAuthorization},
		{"validation", errors.New("schema validation failed"), ErrorValidation},
		{"invalid", errors.New("Invalid request body"), ErrorValidation},
		{"memory", errors.New("out of memory"), ErrorResource},
		{"cpu", errors.New("cpu quota exhausted"), ErrorResource},
		{"resource", errors.New("insufficient resource"), ErrorResource},
		{"permanent", errors.New("permanent failure"), ErrorPermanent},
		{"fatal", errors.New("fatal: unsupported model"), ErrorPermanent},
		{"wrapped", fmt.Errorf("call failed: %w", errors.New("rate limit")), ErrorTemporary},
		{"unknown", errors.New("something odd happened"), ErrorUnknown},
		{"nil", nil, ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
