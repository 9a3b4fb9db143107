package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// Architecture turns the approved analysis into an architecture
// decision record and a list of dependencies the implementation will
// need, per spec.md §4.7.
type Architecture struct {
	Base
	LLM LLMCompleter
}

// NewArchitecture constructs the architecture stage.
func NewArchitecture(llm LLMCompleter, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Architecture {
	return &Architecture{
		Base: Base{Name: core.StageArchitecture, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		LLM:  llm,
	}
}

func (s *Architecture) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if stageCtx.StringOr("analysis_report", "") == "" {
		return fmt.Errorf("%w: architecture stage requires analysis_report in context", core.ErrContractViolation)
	}
	return nil
}

func (s *Architecture) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	approvedChanges, _ := stageCtx["approved_changes"].([]string)
	prompt := fmt.Sprintf(
		"Write an architecture decision record for implementing the following approved changes.\n\nTask: %s\nApproved changes: %v\nAcceptance criteria: %v",
		card.Title, approvedChanges, card.AcceptanceCriteria,
	)
	resp, err := s.LLM.Complete(ctx, prompt, &core.AIOptions{Temperature: 0.2, MaxTokens: 2000}, core.StageArchitecture, "adr")
	if err != nil {
		return nil, fmt.Errorf("%w: architecture LLM call failed: %v", core.ErrFatal, err)
	}

	adrID := ""
	if s.Artifacts != nil {
		adrID, err = s.Artifacts.Store(ctx, core.ArtifactArchitectureDecision, card.CardID, card.Title, resp.Content, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to persist adr_file: %v", core.ErrFatal, err)
		}
	}

	return map[string]interface{}{
		"adr_file":                adrID,
		"adr_content":             resp.Content,
		"dependencies_identified": extractDependencyHints(resp.Content),
		"duration_seconds":        elapsed(start),
	}, nil
}

// extractDependencyHints is a light heuristic: any backticked token in
// the ADR is treated as a candidate dependency name. A real dependency
// graph tool is out of scope; the Dependencies stage treats this list
// as a starting point to verify, not ground truth.
func extractDependencyHints(adr string) []string {
	var deps []string
	inBacktick := false
	current := ""
	for _, r := range adr {
		if r == '`' {
			if inBacktick && current != "" {
				deps = append(deps, current)
			}
			inBacktick = !inBacktick
			current = ""
			continue
		}
		if inBacktick {
			current += string(r)
		}
	}
	return dedupe(deps)
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
