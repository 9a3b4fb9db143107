package developer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

type stubCompleter struct {
	mu        sync.Mutex
	responses map[string]string // purpose -> content
	err       map[string]error
	calls     int
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string, options *core.AIOptions, stageName core.StageName, purpose string) (*core.AIResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err, ok := s.err[purpose]; ok && err != nil {
		return nil, err
	}
	content, ok := s.responses[purpose]
	if !ok {
		content = s.responses["*"]
	}
	return &core.AIResponse{
		Content: content,
		Model:   "stub-model",
		Usage:   core.TokenUsage{PromptTokens: 10, CompletionTokens: 20},
	}, nil
}

const validEnvelope = `{"implementation_files":[{"path":"main.go","content":"package main\nfunc main() {}\n"}],"test_files":[{"path":"main_test.go","content":"package main\nfunc TestMain(t *testing.T) { assert.True(t, true) }\n"}],"notes":"tdd approach"}`

func testCard() *core.Card {
	return &core.Card{
		CardID:             "card-1",
		Title:              "Implement widget",
		Description:        "Build the widget",
		AcceptanceCriteria: []string{"widget compiles", "widget has tests"},
	}
}

func TestInvokeAllWorkersSucceed(t *testing.T) {
	completer := &stubCompleter{responses: map[string]string{"*": validEnvelope}}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr content", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.WorkerID)
		assert.Equal(t, "success", r.Status)
		assert.NotEmpty(t, r.ImplementationFiles)
	}
	assert.Equal(t, "conservative", results[0].Profile)
	assert.Equal(t, "aggressive", results[1].Profile)
	assert.Equal(t, "balanced", results[2].Profile)
}

func TestInvokeOrdersResultsByWorkerIDRegardlessOfCompletionOrder(t *testing.T) {
	completer := &stubCompleter{responses: map[string]string{"*": validEnvelope}}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr", 5)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i+1, r.WorkerID)
	}
}

func TestInvokeSurvivesAPartialFailure(t *testing.T) {
	completer := &stubCompleter{
		responses: map[string]string{
			"implementation:conservative": validEnvelope,
			"implementation:balanced":     validEnvelope,
		},
		err: map[string]error{
			"implementation:aggressive": errors.New("llm timeout"),
		},
	}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "failed", results[1].Status)
	assert.Contains(t, results[1].Error, "llm timeout")
	assert.Equal(t, "success", results[2].Status)
}

func TestInvokeFailsOverallWhenEveryWorkerFails(t *testing.T) {
	completer := &stubCompleter{err: map[string]error{}}
	for _, purpose := range []string{"implementation:conservative", "implementation:aggressive", "implementation:balanced"} {
		completer.err[purpose] = errors.New("boom")
	}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFatal)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "failed", r.Status)
	}
}

func TestInvokeSingleMalformedWorkerFailsOverall(t *testing.T) {
	completer := &stubCompleter{responses: map[string]string{"*": "not json"}}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr", 1)
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].Status)
	assert.Contains(t, results[0].Error, "not valid JSON")
}

func TestInvokeDefaultsNOrLessToOneWorker(t *testing.T) {
	completer := &stubCompleter{responses: map[string]string{"*": validEnvelope}}
	inv := NewInvoker(completer, nil)

	results, err := inv.Invoke(context.Background(), testCard(), "adr", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestProfilesForCyclesRotationPastThree(t *testing.T) {
	profiles := profilesFor(4)
	require.Len(t, profiles, 4)
	assert.Equal(t, "conservative", profiles[0].Name)
	assert.Equal(t, "aggressive", profiles[1].Name)
	assert.Equal(t, "balanced", profiles[2].Name)
	assert.Equal(t, "conservative", profiles[3].Name)
}

func TestJoinOrDefaultReturnsDefaultWhenEmpty(t *testing.T) {
	assert.Equal(t, "none specified", joinOrDefault(nil, "none specified"))
}

func TestJoinOrDefaultJoinsWithDashPrefix(t *testing.T) {
	out := joinOrDefault([]string{"a", "b"}, "none")
	assert.Equal(t, "a\n- b", out)
}
