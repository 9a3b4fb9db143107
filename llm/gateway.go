package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/resilience"
)

// Budget is the subset of resilience.Budget the Gateway needs: check
// before spending, bill after a completion actually happens, and price
// a request before either. Declared here so llm never needs to know
// about resilience.Supervisor's other responsibilities.
type Budget interface {
	Reserve(cost float64) error
	CostOf(tokensIn, tokensOut int, model string) float64
}

// CallTracker is the Supervisor's post-call reconciliation hook
// (track_llm_call). Declared as an interface so a Gateway can be
// constructed and tested without a full Supervisor.
type CallTracker interface {
	TrackLLMCall(model, provider string, tokensInput, tokensOutput int, stage core.StageName, purpose string)
}

// Gateway is the LLM Gateway (C3): resolves a completion request to a
// registered provider, enforces the Budget before any non-cached call,
// and caches responses by the SHA-256 hash of their canonical request
// so identical prompts never hit a provider twice within the cache TTL.
type Gateway struct {
	provider core.AIClient
	providerName string
	cache    core.Memory
	cacheTTL time.Duration
	budget   Budget
	tracker  CallTracker
	logger   core.Logger
}

// GatewayOption configures a Gateway at construction.
type GatewayOption func(*Gateway)

// WithCache attaches a response cache and its TTL. A nil cache disables
// caching entirely — every call reaches the provider.
func WithCache(cache core.Memory, ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.cache = cache
		g.cacheTTL = ttl
	}
}

// WithBudget attaches the cost-enforcement collaborator.
func WithBudget(budget Budget) GatewayOption {
	return func(g *Gateway) {
		g.budget = budget
	}
}

// WithCallTracker attaches the Supervisor's post-call reconciliation
// hook.
func WithCallTracker(tracker CallTracker) GatewayOption {
	return func(g *Gateway) {
		g.tracker = tracker
	}
}

// WithGatewayLogger attaches a logger.
func WithGatewayLogger(logger core.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway wraps a resolved provider client. providerName is recorded
// against every cost/cache log line and passed to CallTracker.
func NewGateway(provider core.AIClient, providerName string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:     provider,
		providerName: providerName,
		cacheTTL:     core.DefaultLLMCacheTTL,
		logger:       &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGatewayFromEnvironment resolves the best available provider from
// the global registry (see registry.go's detectBestProvider) and wraps
// it in a Gateway.
func NewGatewayFromEnvironment(config *AIConfig, opts ...GatewayOption) (*Gateway, error) {
	if config == nil {
		config = &AIConfig{}
	}

	providerName := config.Provider
	if providerName == "" || providerName == string(ProviderAuto) {
		detected, err := detectBestProvider(config.Logger)
		if err != nil {
			return nil, fmt.Errorf("no LLM provider available: %w", err)
		}
		providerName = detected
	}

	factory, ok := GetProvider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: no LLM provider registered as %q", core.ErrInvalidConfiguration, providerName)
	}

	client := factory.Create(config)
	return NewGateway(client, providerName, opts...), nil
}

// completionCacheEntry is what's actually stored under the request's
// hash, so a cache hit can replay exact usage accounting without
// re-estimating it.
type completionCacheEntry struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// requestHash is the cache key: the SHA-256 hex digest of the prompt,
// model and the options that affect the response deterministically.
// Temperature above zero makes responses non-deterministic in
// principle, but the spec treats the cache as a pure function of the
// request regardless — callers that need fresh generations at
// temperature > 0 should vary the prompt or bypass the cache.
func requestHash(prompt string, options *core.AIOptions) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	if options != nil {
		fmt.Fprintf(h, "|%s|%f|%d|%s", options.Model, options.Temperature, options.MaxTokens, options.SystemPrompt)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// estimateTokens approximates a pre-call token count by character
// count ÷ 4, the rough estimator the spec names for pre-call budget
// projection; actual usage from the provider response is what's
// billed and tracked afterward.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Complete runs one completion request: a cache hit returns
// immediately with no Budget check and no provider call; a cache miss
// reserves the estimated cost against the Budget, calls the provider,
// reconciles actual cost via CallTracker, and stores the response in
// the cache.
func (g *Gateway) Complete(ctx context.Context, prompt string, options *core.AIOptions, stage core.StageName, purpose string) (*core.AIResponse, error) {
	model := ""
	if options != nil {
		model = options.Model
	}
	key := requestHash(prompt, options)

	if g.cache != nil {
		if cached, err := g.cache.Get(ctx, key); err == nil && cached != "" {
			var entry completionCacheEntry
			if jsonErr := json.Unmarshal([]byte(cached), &entry); jsonErr == nil {
				g.logger.Debug("llm cache hit", map[string]interface{}{
					"operation": "llm_complete",
					"provider":  g.providerName,
					"stage":     string(stage),
					"cache_key": key,
				})
				return &core.AIResponse{
					Content: entry.Content,
					Model:   entry.Model,
					Usage: core.TokenUsage{
						PromptTokens:     entry.PromptTokens,
						CompletionTokens: entry.CompletionTokens,
						TotalTokens:      entry.TotalTokens,
					},
				}, nil
			}
		}
	}

	if g.budget != nil {
		estimatedCost := g.budget.CostOf(estimateTokens(prompt), options.MaxTokens, model)
		if err := g.budget.Reserve(estimatedCost); err != nil {
			return nil, fmt.Errorf("llm call rejected: %w", err)
		}
	}

	response, err := g.provider.GenerateResponse(ctx, prompt, options)
	if err != nil {
		return nil, err
	}

	if g.tracker != nil {
		g.tracker.TrackLLMCall(response.Model, g.providerName, response.Usage.PromptTokens, response.Usage.CompletionTokens, stage, purpose)
	}

	if g.cache != nil {
		entry := completionCacheEntry{
			Content:          response.Content,
			Model:            response.Model,
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		}
		if encoded, jsonErr := json.Marshal(entry); jsonErr == nil {
			_ = g.cache.Set(ctx, key, string(encoded), g.cacheTTL)
		}
	}

	return response, nil
}

// supervisorBudget adapts a *resilience.Budget to the Gateway's Budget
// interface — a thin compile-time bridge kept here instead of in
// resilience, since resilience must not import llm.
type supervisorBudget struct{ b *resilience.Budget }

func (s supervisorBudget) Reserve(cost float64) error                       { return s.b.Reserve(cost) }
func (s supervisorBudget) CostOf(tokensIn, tokensOut int, model string) float64 { return s.b.CostOf(tokensIn, tokensOut, model) }

// NewSupervisorBudget wraps a *resilience.Budget as a Gateway Budget.
func NewSupervisorBudget(b *resilience.Budget) Budget {
	return supervisorBudget{b: b}
}
