package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

// stubClient is a local core.AIClient double, kept here instead of
// importing llm/providers/mock to avoid an import cycle (mock imports
// llm for its Factory registration).
type stubClient struct {
	calls     int
	responses []string
	err       error
}

func (s *stubClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	content := "response"
	if idx < len(s.responses) {
		content = s.responses[idx]
	}
	return &core.AIResponse{
		Content: content,
		Model:   "stub-model",
		Usage: core.TokenUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
	}, nil
}

type stubBudget struct {
	rejectErr error
	reserved  []float64
}

func (s *stubBudget) Reserve(cost float64) error {
	s.reserved = append(s.reserved, cost)
	return s.rejectErr
}

func (s *stubBudget) CostOf(tokensIn, tokensOut int, model string) float64 {
	return float64(tokensIn+tokensOut) * 0.001
}

type stubTracker struct {
	calls int
	stage core.StageName
}

func (s *stubTracker) TrackLLMCall(model, provider string, tokensInput, tokensOutput int, stage core.StageName, purpose string) {
	s.calls++
	s.stage = stage
}

func TestGatewayCompleteCallsProviderOnCacheMiss(t *testing.T) {
	client := &stubClient{responses: []string{"hello there"}}
	budget := &stubBudget{}
	tracker := &stubTracker{}
	gw := NewGateway(client, "stub", WithBudget(budget), WithCallTracker(tracker))

	resp, err := gw.Complete(context.Background(), "hi", &core.AIOptions{Model: "stub-model", MaxTokens: 100}, core.StageDevelopment, "test")

	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 1, client.calls)
	assert.Len(t, budget.reserved, 1)
	assert.Equal(t, 1, tracker.calls)
	assert.Equal(t, core.StageDevelopment, tracker.stage)
}

func TestGatewayCompleteServesFromCacheOnSecondCall(t *testing.T) {
	client := &stubClient{responses: []string{"first", "second"}}
	cache := core.NewInMemoryStore()
	gw := NewGateway(client, "stub", WithCache(cache, core.DefaultLLMCacheTTL))

	options := &core.AIOptions{Model: "stub-model"}
	first, err := gw.Complete(context.Background(), "same prompt", options, core.StageAnalysis, "test")
	require.NoError(t, err)

	second, err := gw.Complete(context.Background(), "same prompt", options, core.StageAnalysis, "test")
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, client.calls, "second call should be served from cache, not reach the provider")
}

func TestGatewayCompleteRejectsWhenBudgetReserveFails(t *testing.T) {
	client := &stubClient{}
	budget := &stubBudget{rejectErr: core.ErrBudgetExceeded}
	gw := NewGateway(client, "stub", WithBudget(budget))

	resp, err := gw.Complete(context.Background(), "hi", &core.AIOptions{MaxTokens: 10}, core.StageDevelopment, "test")

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, core.ErrBudgetExceeded)
	assert.Equal(t, 0, client.calls, "provider must never be called once Reserve rejects the cost")
}

func TestGatewayCompletePropagatesProviderErrorUnchanged(t *testing.T) {
	providerErr := errors.New("upstream exploded")
	client := &stubClient{err: providerErr}
	gw := NewGateway(client, "stub")

	resp, err := gw.Complete(context.Background(), "hi", &core.AIOptions{}, core.StageDevelopment, "test")

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, providerErr)
}

func TestGatewayCompleteDifferentPromptsMissCacheIndependently(t *testing.T) {
	client := &stubClient{responses: []string{"a", "b"}}
	cache := core.NewInMemoryStore()
	gw := NewGateway(client, "stub", WithCache(cache, core.DefaultLLMCacheTTL))

	_, err := gw.Complete(context.Background(), "prompt one", &core.AIOptions{}, core.StageDevelopment, "test")
	require.NoError(t, err)
	_, err = gw.Complete(context.Background(), "prompt two", &core.AIOptions{}, core.StageDevelopment, "test")
	require.NoError(t, err)

	assert.Equal(t, 2, client.calls)
}

func TestRequestHashStableForIdenticalInput(t *testing.T) {
	opts := &core.AIOptions{Model: "m", Temperature: 0.5, MaxTokens: 10, SystemPrompt: "sys"}
	h1 := requestHash("prompt", opts)
	h2 := requestHash("prompt", opts)
	assert.Equal(t, h1, h2)

	h3 := requestHash("different prompt", opts)
	assert.NotEqual(t, h1, h3)
}
