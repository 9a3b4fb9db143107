package pipeline

import (
	"context"

	"github.com/artemis-eng/artemis/core"
)

// LLMCompleter is the narrow slice of llm.Gateway's contract this
// adapter needs, declared locally (rather than importing llm) to keep
// pipeline's dependency graph one-directional, matching the same
// local-interface discipline stage/llm.go and developer/invoker.go
// apply against the same concrete type.
type LLMCompleter interface {
	Complete(ctx context.Context, prompt string, options *core.AIOptions, stageName core.StageName, purpose string) (*core.AIResponse, error)
}

// GatewaySynthesizer adapts an llm.Gateway-shaped completer to
// resilience.WorkflowSynthesizer's Synthesize(ctx, prompt) contract,
// the seam resilience.Supervisor.HandleUnexpectedState uses to ask a
// model for a recovery plan when no prior similar artifact exists.
type GatewaySynthesizer struct {
	LLM LLMCompleter
}

// NewGatewaySynthesizer wraps llm to satisfy resilience.WorkflowSynthesizer.
func NewGatewaySynthesizer(llm LLMCompleter) *GatewaySynthesizer {
	return &GatewaySynthesizer{LLM: llm}
}

// Synthesize asks the wrapped LLM to propose a recovery workflow for
// an unexpected pipeline state, tagging the call under a synthetic
// "orchestrator" stage so it still shows up in per-stage cost tracking.
func (g *GatewaySynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	resp, err := g.LLM.Complete(ctx, prompt, &core.AIOptions{Temperature: 0.2, MaxTokens: 1024}, core.StageName("orchestrator"), "unexpected_state_recovery")
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
