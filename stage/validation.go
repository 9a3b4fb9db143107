package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

// Validation runs each successful candidate's test files in the
// Sandbox and keeps the ones that pass, per spec.md §4.7.
type Validation struct {
	Base
	Sandbox SandboxRunner
}

// NewValidation constructs the validation stage.
func NewValidation(sandbox SandboxRunner, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Validation {
	return &Validation{
		Base:    Base{Name: core.StageValidation, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		Sandbox: sandbox,
	}
}

func (s *Validation) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if _, ok := stageCtx["developer_results"]; !ok {
		return fmt.Errorf("%w: validation stage requires developer_results in context", core.ErrContractViolation)
	}
	return nil
}

func (s *Validation) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	results, ok := stageCtx["developer_results"].([]developer.DeveloperResult)
	if !ok {
		return nil, fmt.Errorf("%w: developer_results has unexpected type", core.ErrContractViolation)
	}

	var approved []int
	candidatesRan := false
	allSecurityRejected := true
	for _, r := range results {
		if r.Status != "success" {
			continue
		}
		candidatesRan = true
		clean, securityRejected := s.runsClean(ctx, r)
		if clean {
			approved = append(approved, r.WorkerID)
			allSecurityRejected = false
		} else if !securityRejected {
			allSecurityRejected = false
		}
	}

	if len(approved) == 0 {
		if candidatesRan && allSecurityRejected {
			return nil, fmt.Errorf("%w: every candidate for card %s was rejected by the sandbox security scan", core.ErrSandboxViolation, card.CardID)
		}
		return nil, fmt.Errorf("%w: no candidate passed validation for card %s", core.ErrFatal, card.CardID)
	}

	return map[string]interface{}{
		"approved_candidates": approved,
		"duration_seconds":    elapsed(start),
	}, nil
}

// runsClean runs r's test files in the Sandbox and reports whether
// they passed, plus whether a failure was specifically the security
// scan killing the run (as opposed to the tests themselves failing or
// timing/resource limits tripping).
func (s *Validation) runsClean(ctx context.Context, r developer.DeveloperResult) (clean bool, securityRejected bool) {
	if len(r.TestFiles) == 0 {
		return true, false
	}
	if s.Sandbox == nil {
		return true, false
	}
	code := ""
	for _, f := range r.TestFiles {
		code += f.Content + "\n"
	}
	out, err := s.Sandbox.Execute(ctx, code, "python", true)
	if err != nil {
		return false, false
	}
	if killed, _ := out["killed"].(bool); killed {
		reason, _ := out["kill_reason"].(string)
		return false, reason == "security_scan"
	}
	success, _ := out["success"].(bool)
	return success, false
}
