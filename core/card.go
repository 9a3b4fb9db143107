package core

import "time"

// Priority is the urgency band attached to a Card or a Message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Card is the unit of work the engine drives end to end. CardID is
// immutable once created; Column is the only field the engine mutates
// during execution (it tracks kanban position, which is opaque to the
// core).
type Card struct {
	CardID             string    `json:"card_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Priority           Priority  `json:"priority"`
	StoryPoints        int       `json:"story_points"`
	Labels             []string  `json:"labels"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	Column             string    `json:"column"`
	CreatedAt          time.Time `json:"created_at"`
}

// HasLabel reports whether the card carries label, case-sensitive.
func (c *Card) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Complexity is the Planner's three-tier classification of a Card.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskType is the Planner's classification of what kind of work a Card
// represents, used to apply skip rules (documentation skips testing).
type TaskType string

const (
	TaskTypeFeature       TaskType = "feature"
	TaskTypeBugfix        TaskType = "bugfix"
	TaskTypeRefactor      TaskType = "refactor"
	TaskTypeDocumentation TaskType = "documentation"
	TaskTypeOther         TaskType = "other"
)

// ExecutionStrategy tells the Orchestrator whether a plan's Development
// stage should fan out to multiple competing workers.
type ExecutionStrategy string

const (
	ExecutionSequential ExecutionStrategy = "sequential"
	ExecutionParallel   ExecutionStrategy = "parallel"
)

// StageName identifies one phase of the pipeline.
type StageName string

const (
	StageAnalysis     StageName = "analysis"
	StageArchitecture StageName = "architecture"
	StageDependencies StageName = "dependencies"
	StageDevelopment  StageName = "development"
	StageReview       StageName = "review"
	StageValidation   StageName = "validation"
	StageIntegration  StageName = "integration"
	StageTesting      StageName = "testing"
	StageArbitration  StageName = "arbitration"
)

// BaselineStages is the Planner's fixed stage-list baseline, before skip
// rules are applied. Arbitration is never in this list: it runs inside
// Development when WorkflowPlan.ParallelDevelopers > 1.
var BaselineStages = []StageName{
	StageAnalysis,
	StageArchitecture,
	StageDependencies,
	StageDevelopment,
	StageReview,
	StageValidation,
	StageIntegration,
	StageTesting,
}

// WorkflowPlan is derived from a Card once, at run start, by the
// Workflow Planner (C11). Stages and SkipStages are always disjoint;
// ParallelDevelopers > 1 implies StageArbitration is not in SkipStages
// (it will run inside StageDevelopment).
type WorkflowPlan struct {
	Complexity         Complexity        `json:"complexity"`
	TaskType           TaskType          `json:"task_type"`
	Stages             []StageName       `json:"stages"`
	SkipStages         map[StageName]bool `json:"skip_stages"`
	ParallelDevelopers int               `json:"parallel_developers"`
	ExecutionStrategy  ExecutionStrategy `json:"execution_strategy"`
	Reasoning          []string          `json:"reasoning"`
}

// RunsArbitration reports whether Development should fan out to
// multiple competing workers and arbitrate between them.
func (p *WorkflowPlan) RunsArbitration() bool {
	return p.ParallelDevelopers > 1
}

// ActiveStages returns Stages minus SkipStages, in plan order.
func (p *WorkflowPlan) ActiveStages() []StageName {
	active := make([]StageName, 0, len(p.Stages))
	for _, s := range p.Stages {
		if !p.SkipStages[s] {
			active = append(active, s)
		}
	}
	return active
}

// Context is the Orchestrator-owned map threaded through successive
// stages. Keys are conventional ("adr_file", "developer_results",
// "winner"); a stage is expected to write each key exactly once per
// run. Context is not safe for concurrent mutation — only the
// Orchestrator's goroutine writes to it, per §5 of the engine's
// concurrency model.
type Context map[string]interface{}

// NewContext returns an empty Context ready for a fresh run.
func NewContext() Context {
	return make(Context)
}

// Merge overlays delta onto c, key by key. Used by the Orchestrator to
// fold a stage's declared outputs back into the shared context.
func (c Context) Merge(delta map[string]interface{}) {
	for k, v := range delta {
		c[k] = v
	}
}

// StringOr returns the string at key, or def if the key is absent or
// not a string.
func (c Context) StringOr(key, def string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
