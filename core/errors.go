package core

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classify failures into the taxonomy every Supervisor,
// Checkpoint Manager and Orchestrator decision is built on. Compare with
// errors.Is, never string matching.
var (
	// ErrBudgetExceeded is returned when an LLM call would push the card's
	// daily or monthly cost past its configured limit. Never counted against
	// a circuit breaker's failure budget: it is a policy stop, not a fault.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrSandboxViolation is returned when generated code attempts a
	// forbidden operation (network egress, privilege escalation, filesystem
	// escape) or the security scan rejects it before execution.
	ErrSandboxViolation = errors.New("sandbox violation")

	// ErrContractViolation is returned when a stage produces output that
	// does not satisfy the next stage's declared input contract. Never
	// counted against a circuit breaker's failure budget: it is a
	// programming error, not a transient fault.
	ErrContractViolation = errors.New("stage contract violation")

	// ErrCircuitOpen is returned by the Supervisor when a stage's circuit
	// breaker has tripped and is refusing new executions.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMaxRetriesExceeded is returned once a retried operation has
	// exhausted its attempt budget.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("operation timeout")

	// ErrCheckpointCorrupt is returned when a checkpoint file fails to
	// parse or fails its own consistency checks on load.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrFatal marks an error the Supervisor should never retry: the
	// pipeline run must stop and surface the error to the operator.
	ErrFatal = errors.New("fatal error")

	// ErrNotFound is returned when a lookup (artifact, message, stage
	// record) finds nothing for the given key.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by append-only stores when a write
	// would collide with an existing entry.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidConfiguration flags a Config value that failed validation.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when a backing store (Redis, the
	// sandbox daemon) cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")
)

// FrameworkError is the structured error envelope every package wraps
// its failures in before returning them. Op names the failing operation
// ("checkpoint.Save", "supervisor.ExecuteStage"), Kind classifies it for
// logging and metrics cardinality, ID optionally names the entity
// involved (a stage name, a card ID).
type FrameworkError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError wraps err with operation and kind context.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// WithID attaches an entity ID to a FrameworkError and returns it, for
// chaining at the call site: core.NewFrameworkError(...).WithID(stageName).
func (e *FrameworkError) WithID(id string) *FrameworkError {
	e.ID = id
	return e
}

// IsRetryable reports whether a Supervisor may retry an operation that
// failed with err. Budget and contract violations are deliberate stops,
// never retried.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrContractViolation) || errors.Is(err, ErrFatal) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrMaxRetriesExceeded)
}

// IsBudgetExceeded reports whether err (or any error it wraps) is the
// budget-exceeded sentinel.
func IsBudgetExceeded(err error) bool {
	return errors.Is(err, ErrBudgetExceeded)
}

// IsSandboxViolation reports whether err (or any error it wraps) is a
// sandbox security violation.
func IsSandboxViolation(err error) bool {
	return errors.Is(err, ErrSandboxViolation)
}

// IsContractViolation reports whether err is a stage contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsFatal reports whether err should stop the run outright rather than
// be retried or recovered from.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) || errors.Is(err, ErrCheckpointCorrupt)
}

// CountsAgainstCircuit decides, per the Supervisor's ErrorClassifier
// contract, whether err should count toward a stage's circuit breaker
// failure budget. Policy stops (budget, contract violations) and
// context cancellation never do, mirroring the "don't count
// configuration/not-found/state errors" rule the classifier is
// grounded on.
func CountsAgainstCircuit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrContractViolation) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
