package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// AllowedDependencies is the declared compatibility set Dependencies
// checks candidate dependency names against. A real package-registry
// lookup is out of this module's scope (no registry client appears
// anywhere in the retrieval pack); the compatibility set is a static
// allowlist instead, matching spec.md's "verifies a declared
// compatibility set" language literally.
var AllowedDependencies = map[string]bool{
	"json": true, "http": true, "time": true, "context": true,
	"errors": true, "fmt": true, "sync": true, "strings": true,
	"strconv": true, "regexp": true, "testing": true,
}

// Dependencies verifies the Architecture stage's identified
// dependencies against a declared compatibility set. Failure here is
// a hard block, per spec.md §4.7.
type Dependencies struct {
	Base
	Allowed map[string]bool
}

// NewDependencies constructs the dependencies stage. allowed may be
// nil, in which case AllowedDependencies is used.
func NewDependencies(allowed map[string]bool, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Dependencies {
	if allowed == nil {
		allowed = AllowedDependencies
	}
	return &Dependencies{
		Base:    Base{Name: core.StageDependencies, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		Allowed: allowed,
	}
}

func (s *Dependencies) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	identified, _ := stageCtx["dependencies_identified"].([]string)
	var incompatible []string
	for _, dep := range identified {
		if !s.Allowed[dep] {
			incompatible = append(incompatible, dep)
		}
	}
	if len(incompatible) > 0 {
		return nil, fmt.Errorf("%w: incompatible dependencies %v for card %s", core.ErrContractViolation, incompatible, card.CardID)
	}

	content := fmt.Sprintf("dependencies: %v", identified)
	reqID := ""
	if s.Artifacts != nil {
		var err error
		reqID, err = s.Artifacts.Store(ctx, core.ArtifactProjectAnalysis, card.CardID, card.Title, content, map[string]interface{}{"kind": "requirements_file"})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to persist requirements_file: %v", core.ErrFatal, err)
		}
	}

	return map[string]interface{}{
		"requirements_file": reqID,
		"duration_seconds":  elapsed(start),
	}, nil
}
