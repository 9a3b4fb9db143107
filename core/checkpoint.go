package core

import "time"

// CheckpointStatus is a Checkpoint's lifecycle state. Terminal states
// (Completed, Failed) accept no further mutations.
type CheckpointStatus string

const (
	CheckpointActive    CheckpointStatus = "active"
	CheckpointPaused    CheckpointStatus = "paused"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
	CheckpointResumed   CheckpointStatus = "resumed"
)

// Terminal reports whether s accepts no further mutation.
func (s CheckpointStatus) Terminal() bool {
	return s == CheckpointCompleted || s == CheckpointFailed
}

// Checkpoint is the per-card durable record the Checkpoint Manager (C5)
// exclusively owns. CompletedStages, FailedStages and SkippedStages are
// pairwise disjoint by construction — the Checkpoint Manager is the only
// writer and enforces this on every mutation. SkippedStages holds stages
// a Planner chose to skip; RuntimeSkippedStages holds stages a circuit
// breaker skipped at runtime — the two are recorded separately because
// they mean different things to a resumed run (a planner-skipped stage
// should never be retried; a runtime-skipped stage may succeed on the
// next attempt after the breaker closes).
type Checkpoint struct {
	CheckpointID         string                       `json:"checkpoint_id"`
	CardID               string                       `json:"card_id"`
	Status               CheckpointStatus             `json:"status"`
	CreatedAt            time.Time                    `json:"created_at"`
	UpdatedAt            time.Time                    `json:"updated_at"`
	CompletedStages      []StageName                  `json:"completed_stages"`
	FailedStages         []StageName                  `json:"failed_stages"`
	SkippedStages        []StageName                  `json:"skipped_stages"`
	RuntimeSkippedStages []StageName                  `json:"runtime_skipped_stages"`
	CurrentStage         StageName                    `json:"current_stage,omitempty"`
	StageCheckpoints     map[StageName]*StageRecord   `json:"stage_checkpoints"`
	TotalStages          int                          `json:"total_stages"`
	ResumeCount          int                          `json:"resume_count"`
	LastResumeTime       *time.Time                   `json:"last_resume_time,omitempty"`
	FailureReason        string                       `json:"failure_reason,omitempty"`
	ExecutionContext     map[string]interface{}       `json:"execution_context,omitempty"`
}

// StagesCompleted returns len(CompletedStages), the value the spec
// calls stages_completed.
func (c *Checkpoint) StagesCompleted() int {
	return len(c.CompletedStages)
}

// Terminal stages (a set derived from the three disjoint lists) is the
// union the spec's invariant is defined over.
func (c *Checkpoint) terminalSet() map[StageName]bool {
	set := make(map[StageName]bool, len(c.CompletedStages)+len(c.FailedStages)+len(c.SkippedStages))
	for _, s := range c.CompletedStages {
		set[s] = true
	}
	for _, s := range c.FailedStages {
		set[s] = true
	}
	for _, s := range c.SkippedStages {
		set[s] = true
	}
	return set
}

// NextStage returns the first stage in allStages not yet present in
// CompletedStages or SkippedStages (planner-skipped stages are treated
// as already resolved; RuntimeSkippedStages is not consulted here since
// a circuit-open skip should be retried on the next run).
func (c *Checkpoint) NextStage(allStages []StageName) (StageName, bool) {
	done := make(map[StageName]bool, len(c.CompletedStages)+len(c.SkippedStages))
	for _, s := range c.CompletedStages {
		done[s] = true
	}
	for _, s := range c.SkippedStages {
		done[s] = true
	}
	for _, s := range allStages {
		if !done[s] {
			return s, true
		}
	}
	return "", false
}

// CanResume reports whether c is in a resumable status and has at least
// one stage left among totalStages.
func (c *Checkpoint) CanResume(totalStages []StageName) bool {
	switch c.Status {
	case CheckpointActive, CheckpointPaused, CheckpointFailed:
	default:
		return false
	}
	_, hasNext := c.NextStage(totalStages)
	return hasNext
}

// Progress is the Checkpoint Manager's progress() report.
type Progress struct {
	ProgressPercent            float64   `json:"progress_percent"`
	StagesCompleted            int       `json:"stages_completed"`
	TotalStages                int       `json:"total_stages"`
	CurrentStage               StageName `json:"current_stage,omitempty"`
	ElapsedSeconds             float64   `json:"elapsed_seconds"`
	EstimatedRemainingSeconds  float64   `json:"estimated_remaining_seconds"`
}
