package stage

import (
	"context"

	"github.com/artemis-eng/artemis/core"
)

// LLMCompleter is the narrow slice of llm.Gateway the stages that call
// out to the model (analysis, architecture, dependencies, code review)
// need. Declared locally for the same reason stage.Notifier and
// stage.ArtifactRecorder are: this package stays agnostic to which
// Gateway implementation the caller wires in.
type LLMCompleter interface {
	Complete(ctx context.Context, prompt string, options *core.AIOptions, stageName core.StageName, purpose string) (*core.AIResponse, error)
}
