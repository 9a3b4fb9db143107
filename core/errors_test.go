package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"timeout is retryable", ErrTimeout, true},
		{"circuit open is retryable", ErrCircuitOpen, true},
		{"max retries is retryable", ErrMaxRetriesExceeded, true},
		{"budget exceeded is never retryable", ErrBudgetExceeded, false},
		{"contract violation is never retryable", ErrContractViolation, false},
		{"fatal is never retryable", ErrFatal, false},
		{"unrelated error is not retryable", errors.New("boom"), false},
		{"wrapped timeout is retryable", fmt.Errorf("stage failed: %w", ErrTimeout), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestCountsAgainstCircuit(t *testing.T) {
	assert.False(t, CountsAgainstCircuit(nil))
	assert.False(t, CountsAgainstCircuit(ErrBudgetExceeded))
	assert.False(t, CountsAgainstCircuit(ErrContractViolation))
	assert.True(t, CountsAgainstCircuit(ErrTimeout))
	assert.True(t, CountsAgainstCircuit(errors.New("connection refused")))
}

func TestClassifierHelpers(t *testing.T) {
	assert.True(t, IsBudgetExceeded(fmt.Errorf("card X: %w", ErrBudgetExceeded)))
	assert.True(t, IsSandboxViolation(ErrSandboxViolation))
	assert.True(t, IsContractViolation(ErrContractViolation))
	assert.True(t, IsFatal(ErrFatal))
	assert.True(t, IsFatal(ErrCheckpointCorrupt))
	assert.False(t, IsFatal(ErrTimeout))
}

func TestFrameworkErrorFormatting(t *testing.T) {
	base := errors.New("connection reset")
	err := NewFrameworkError("checkpoint.Save", "checkpoint", base).WithID("stage-3")

	assert.Equal(t, "checkpoint.Save [stage-3]: connection reset", err.Error())
	assert.Equal(t, base, err.Unwrap())
	assert.ErrorIs(t, err, base)
}

func TestFrameworkErrorWithoutID(t *testing.T) {
	base := errors.New("disk full")
	err := NewFrameworkError("artifacts.Store", "artifacts", base)

	assert.Equal(t, "artifacts.Store: disk full", err.Error())
}

func TestFrameworkErrorMessageOnly(t *testing.T) {
	err := &FrameworkError{Kind: "sandbox", Message: "forbidden import: os/exec"}
	assert.Equal(t, "forbidden import: os/exec", err.Error())
}
