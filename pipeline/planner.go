// Package pipeline implements the Workflow Planner (C11) and the
// Orchestrator (C10): the two components that turn a Card into a
// concrete run plan and drive that plan through the Stage Framework
// under Supervisor protection.
package pipeline

import (
	"strconv"
	"strings"

	"github.com/artemis-eng/artemis/core"
)

// ComplexKeywords and SimpleKeywords bias the Planner's complexity
// score. They are deliberately data, not code, per spec.md §4.9's
// "keyword sets are configurable; the algorithm is fixed" — callers
// may substitute a different set via PlannerOption without touching
// ScoreComplexity's arithmetic.
var (
	DefaultComplexKeywords = []string{
		"integrate", "integration", "oauth", "migration", "refactor",
		"architecture", "distributed", "cross-service", "rotation",
		"security", "breaking change", "rewrite", "concurrency",
	}
	DefaultSimpleKeywords = []string{
		"typo", "readme", "comment", "rename", "formatting",
		"whitespace", "doc", "spelling", "wording",
	}
)

// Planner computes a WorkflowPlan from a Card, per spec.md §4.9.
type Planner struct {
	complexKeywords []string
	simpleKeywords  []string
}

// PlannerOption configures a Planner at construction.
type PlannerOption func(*Planner)

// WithKeywordSets overrides the default complex/simple keyword lists.
func WithKeywordSets(complex, simple []string) PlannerOption {
	return func(p *Planner) {
		p.complexKeywords = complex
		p.simpleKeywords = simple
	}
}

// NewPlanner constructs a Planner with the default keyword sets unless
// overridden.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		complexKeywords: DefaultComplexKeywords,
		simpleKeywords:  DefaultSimpleKeywords,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// priorityWeight and the story-point tiers below are the Planner's
// fixed arithmetic; only the keyword sets are configurable.
func priorityWeight(p core.Priority) int {
	switch p {
	case core.PriorityHigh:
		return 2
	case core.PriorityMedium:
		return 1
	default:
		return 0
	}
}

func pointsWeight(points int) int {
	switch {
	case points >= 14:
		return 4
	case points >= 9:
		return 3
	case points >= 6:
		return 2
	case points >= 3:
		return 1
	default:
		return 0
	}
}

// ScoreComplexity computes the Planner's complexity score for card,
// per spec.md §4.9's formula: priority_weight + points_weight +
// keyword_adjustments.
func (p *Planner) ScoreComplexity(card *core.Card) int {
	text := strings.ToLower(card.Title + " " + card.Description)
	adjustment := 0
	for _, kw := range p.complexKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			adjustment++
		}
	}
	for _, kw := range p.simpleKeywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			adjustment--
		}
	}
	return priorityWeight(card.Priority) + pointsWeight(card.StoryPoints) + adjustment
}

// classifyComplexity applies spec.md §4.9's thresholds to a score.
func classifyComplexity(score int) core.Complexity {
	switch {
	case score >= 6:
		return core.ComplexityComplex
	case score >= 3:
		return core.ComplexityMedium
	default:
		return core.ComplexitySimple
	}
}

// parallelDevelopersFor maps complexity to worker count, per spec.md
// §4.9: simple -> 1, medium -> 2, complex -> 3.
func parallelDevelopersFor(c core.Complexity) int {
	switch c {
	case core.ComplexityComplex:
		return 3
	case core.ComplexityMedium:
		return 2
	default:
		return 1
	}
}

// classifyTaskType applies a labels-first, then keyword, heuristic. No
// teacher or pack file classifies task type from free text; this is a
// small, dependency-free heuristic local to this domain.
func classifyTaskType(card *core.Card) core.TaskType {
	for _, label := range card.Labels {
		switch strings.ToLower(label) {
		case "bug", "bugfix":
			return core.TaskTypeBugfix
		case "documentation", "docs":
			return core.TaskTypeDocumentation
		case "refactor", "refactoring":
			return core.TaskTypeRefactor
		case "feature":
			return core.TaskTypeFeature
		}
	}
	text := strings.ToLower(card.Title + " " + card.Description)
	switch {
	case strings.Contains(text, "fix") || strings.Contains(text, "bug"):
		return core.TaskTypeBugfix
	case strings.Contains(text, "readme") || strings.Contains(text, "documentation") || strings.Contains(text, "doc"):
		return core.TaskTypeDocumentation
	case strings.Contains(text, "refactor"):
		return core.TaskTypeRefactor
	case strings.Contains(text, "add") || strings.Contains(text, "implement") || strings.Contains(text, "integrate"):
		return core.TaskTypeFeature
	default:
		return core.TaskTypeOther
	}
}

// Plan computes the full WorkflowPlan for card, per spec.md §4.9:
// stage-list baseline minus skip rules, complexity, and parallel
// developer count.
func (p *Planner) Plan(card *core.Card) *core.WorkflowPlan {
	score := p.ScoreComplexity(card)
	complexity := classifyComplexity(score)
	taskType := classifyTaskType(card)
	developers := parallelDevelopersFor(complexity)

	stages := make([]core.StageName, len(core.BaselineStages))
	copy(stages, core.BaselineStages)

	skip := map[core.StageName]bool{}
	reasoning := []string{
		"complexity score " + strconv.Itoa(score) + " classified as " + string(complexity),
	}
	if taskType == core.TaskTypeDocumentation {
		skip[core.StageTesting] = true
		reasoning = append(reasoning, "task_type=documentation skips testing")
	}

	strategy := core.ExecutionSequential
	if developers > 1 {
		strategy = core.ExecutionParallel
		reasoning = append(reasoning, "parallel_developers > 1 runs arbitration inside development")
	} else {
		reasoning = append(reasoning, "parallel_developers = 1 skips arbitration inside development")
	}

	return &core.WorkflowPlan{
		Complexity:         complexity,
		TaskType:           taskType,
		Stages:             stages,
		SkipStages:         skip,
		ParallelDevelopers: developers,
		ExecutionStrategy:  strategy,
		Reasoning:          reasoning,
	}
}

