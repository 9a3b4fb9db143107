package core

import "time"

// StageStatus is a StageRecord's lifecycle state.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// CachedLLMResponse is one cached completion recorded against a stage's
// execution, keyed by the SHA-256 hash of its canonical request.
type CachedLLMResponse struct {
	PromptHash string `json:"prompt_hash"`
	Response   string `json:"response"`
}

// StageRecord is the per-stage execution record the Checkpoint Manager
// persists. Invariant: Status == StageStatusCompleted implies
// EndTime is not before StartTime and Result is non-nil.
type StageRecord struct {
	StageName       StageName             `json:"stage_name"`
	Status          StageStatus           `json:"status"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	DurationSeconds float64               `json:"duration_seconds"`
	Result          map[string]interface{} `json:"result,omitempty"`
	Artifacts       []string              `json:"artifacts,omitempty"`
	LLMResponses    []CachedLLMResponse   `json:"llm_responses,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	RetryCount      int                   `json:"retry_count"`
}

// Valid reports whether the record satisfies the completed-stage
// invariant from §3 of the engine's data model.
func (r *StageRecord) Valid() bool {
	if r.Status != StageStatusCompleted {
		return true
	}
	return !r.EndTime.Before(r.StartTime) && r.Result != nil
}

// StageHealth is the Supervisor's per-stage runtime counters.
// Invariant: CircuitOpen implies CircuitOpenUntil is after the time it
// was last observed; a read performed once that deadline has passed
// flips CircuitOpen to false and resets FailureCount atomically.
type StageHealth struct {
	StageName           StageName  `json:"stage_name"`
	Executions          int        `json:"executions"`
	Failures            int        `json:"failures"`
	FailureCount        int        `json:"failure_count"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	CircuitOpen         bool       `json:"circuit_open"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
	AvgDurationSeconds  float64    `json:"avg_duration_seconds"`
}

// FailureRate returns Failures/Executions, or 0 when there have been no
// executions yet. Per the spec's resolution of an Open Question, a rate
// above 1.0 is a reporting bug, never a valid value this type produces.
func (h *StageHealth) FailureRate() float64 {
	if h.Executions == 0 {
		return 0
	}
	rate := float64(h.Failures) / float64(h.Executions)
	if rate > 1.0 {
		rate = 1.0
	}
	return rate
}
