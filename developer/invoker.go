// Package developer implements the Developer Invoker and Arbitration
// (C9): fanning the Development stage's implementation task out to N
// competing workers and selecting a winner among their candidates.
package developer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artemis-eng/artemis/core"
)

// LLMCompleter is the narrow slice of llm.Gateway the invoker needs.
type LLMCompleter interface {
	Complete(ctx context.Context, prompt string, options *core.AIOptions, stage core.StageName, purpose string) (*core.AIResponse, error)
}

// SandboxRunner is the narrow slice of sandbox.Executor the validation
// pass over each candidate's test files needs.
type SandboxRunner interface {
	Execute(ctx context.Context, code, language string, scanSecurity bool) (map[string]interface{}, error)
}

// File is one generated source or test file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DeveloperResult is one worker's output, per spec.md §4.8.
type DeveloperResult struct {
	WorkerID            int     `json:"worker_id"`
	Profile             string  `json:"profile"`
	ImplementationFiles []File  `json:"implementation_files"`
	TestFiles           []File  `json:"test_files"`
	Notes               string  `json:"notes"`
	TokensUsed          int     `json:"tokens_used"`
	DurationSeconds     float64 `json:"duration_seconds"`
	Status              string  `json:"status"` // "success" or "failed"
	Error               string  `json:"error,omitempty"`
}

// workerProfile is a worker's behavioral stance, biasing its prompt
// toward different tradeoffs so competing candidates are genuinely
// diverse rather than N near-identical attempts.
type workerProfile struct {
	Name           string
	CoverageTarget int
	Stance         string
}

// profilesFor returns the n worker profiles to use, cycling through a
// fixed rotation when n exceeds the rotation's length.
func profilesFor(n int) []workerProfile {
	rotation := []workerProfile{
		{Name: "conservative", CoverageTarget: 80, Stance: "prioritize correctness and defensive error handling over cleverness"},
		{Name: "aggressive", CoverageTarget: 90, Stance: "prioritize thorough test coverage and edge-case handling"},
		{Name: "balanced", CoverageTarget: 85, Stance: "balance readability, coverage, and implementation simplicity"},
	}
	out := make([]workerProfile, n)
	for i := 0; i < n; i++ {
		out[i] = rotation[i%len(rotation)]
	}
	return out
}

// Invoker runs the Developer Invoker protocol.
type Invoker struct {
	llm    LLMCompleter
	logger core.Logger
	tel    core.Telemetry
}

// NewInvoker constructs an Invoker.
func NewInvoker(llm LLMCompleter, logger core.Logger) *Invoker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Invoker{llm: llm, logger: logger, tel: &core.NoOpTelemetry{}}
}

// SetTelemetry attaches a Telemetry backend for the fan-out span and
// each worker's own span; resilience.Supervisor takes the same backend
// through its WithTelemetry option.
func (inv *Invoker) SetTelemetry(t core.Telemetry) {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	inv.tel = t
}

// Invoke fans the implementation task out to n concurrent workers, per
// spec.md §4.8's protocol. A failing worker does not cancel its peers;
// the returned slice always has len == n, collated by worker_id
// ascending so arbitration is reproducible, and failed workers carry
// Status="failed" rather than being dropped.
//
// Grounded on the retrieval pack's errgroup fan-out shape
// (yungbote-neurobridge-backend/internal/modules/learning/steps/embed_chunks.go):
// errgroup.WithContext plus SetLimit bounds concurrency to n, and each
// worker's error is captured into its own result rather than failing
// the group, since "a failing worker does not cancel its peers" per
// spec.md §5.
func (inv *Invoker) Invoke(ctx context.Context, card *core.Card, adrContent string, n int) ([]DeveloperResult, error) {
	ctx, span := inv.tel.StartSpan(ctx, "developer.invoke")
	span.SetAttribute("worker_count", n)
	defer span.End()

	if n <= 0 {
		n = 1
	}
	profiles := profilesFor(n)
	results := make([]DeveloperResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for i := 0; i < n; i++ {
		workerID := i + 1
		profile := profiles[i]
		g.Go(func() error {
			results[workerID-1] = inv.runWorker(gctx, card, adrContent, workerID, profile)
			return nil
		})
	}
	// errgroup.Go never returns a non-nil error here: runWorker always
	// recovers into its own result rather than propagating.
	_ = g.Wait()

	for _, r := range results {
		inv.tel.RecordMetric("developer.worker.tokens_used", float64(r.TokensUsed), map[string]string{"profile": r.Profile, "status": r.Status})
	}

	allFailed := true
	for _, r := range results {
		if r.Status == "success" {
			allFailed = false
			break
		}
	}
	if allFailed {
		return results, fmt.Errorf("%w: all %d developer workers failed", core.ErrFatal, n)
	}
	return results, nil
}

func (inv *Invoker) runWorker(ctx context.Context, card *core.Card, adrContent string, workerID int, profile workerProfile) DeveloperResult {
	ctx, span := inv.tel.StartSpan(ctx, fmt.Sprintf("developer.worker.%d", workerID))
	span.SetAttribute("profile", profile.Name)
	defer span.End()

	start := time.Now()
	result := DeveloperResult{WorkerID: workerID, Profile: profile.Name}

	prompt := buildWorkerPrompt(card, adrContent, profile)
	resp, err := inv.llm.Complete(ctx, prompt, &core.AIOptions{Temperature: 0.3, MaxTokens: 4000}, core.StageDevelopment, "implementation:"+profile.Name)
	result.DurationSeconds = time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	result.TokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	envelope, err := parseEnvelope(resp.Content)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}

	result.ImplementationFiles = envelope.ImplementationFiles
	result.TestFiles = envelope.TestFiles
	result.Notes = envelope.Notes
	result.Status = "success"
	return result
}

func buildWorkerPrompt(card *core.Card, adrContent string, profile workerProfile) string {
	return fmt.Sprintf(
		"You are a %s implementer (target test coverage >= %d%%). %s.\n\n"+
			"Architecture decision record:\n%s\n\n"+
			"Task: %s\n%s\n\nAcceptance criteria:\n- %s\n\n"+
			"Respond with a JSON object: {\"implementation_files\": [{\"path\":..., \"content\":...}], "+
			"\"test_files\": [{\"path\":..., \"content\":...}], \"notes\": \"...\"}",
		profile.Name, profile.CoverageTarget, profile.Stance,
		adrContent, card.Title, card.Description,
		joinOrDefault(card.AcceptanceCriteria, "none specified"),
	)
}

func joinOrDefault(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	out := items[0]
	for _, item := range items[1:] {
		out += "\n- " + item
	}
	return out
}
