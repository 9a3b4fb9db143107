package core

import "time"

// ModelRate is the per-1k-token price for a model, the unit cost_of()
// applies.
type ModelRate struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Budget is the Supervisor's cost-tracker state (C6 owns it
// exclusively). Invariant: recording a call that would push DailyCost
// or MonthlyCost past its limit fails before the call is made — see
// package resilience's Budget.Reserve for the enforcement point.
type Budget struct {
	TotalCost      float64              `json:"total_cost"`
	DailyCost      float64              `json:"daily_cost"`
	MonthlyCost    float64              `json:"monthly_cost"`
	DailyLimit     float64              `json:"daily_limit"`
	MonthlyLimit   float64              `json:"monthly_limit"`
	PerModelRate   map[string]ModelRate `json:"per_model_rate"`
	DailyResetAt   time.Time            `json:"daily_reset_at"`
	MonthlyResetAt time.Time            `json:"monthly_reset_at"`
}

// DefaultModelRates seeds PerModelRate with the handful of models the
// LLM Gateway's bundled providers speak, in USD per 1,000 tokens.
func DefaultModelRates() map[string]ModelRate {
	return map[string]ModelRate{
		"gpt-4":                  {InputPer1K: 0.03, OutputPer1K: 0.06},
		"gpt-4o":                 {InputPer1K: 0.005, OutputPer1K: 0.015},
		"gpt-3.5-turbo":          {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"claude-3-sonnet":        {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-haiku":         {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		"amazon.titan-embed-text-v1": {InputPer1K: 0.0001, OutputPer1K: 0},
		"mock":                   {InputPer1K: 0, OutputPer1K: 0},
	}
}

// NewBudget returns a Budget reset to zero spend with the given limits.
func NewBudget(dailyLimit, monthlyLimit float64) *Budget {
	now := time.Now()
	return &Budget{
		DailyLimit:     dailyLimit,
		MonthlyLimit:   monthlyLimit,
		PerModelRate:   DefaultModelRates(),
		DailyResetAt:   now.Add(24 * time.Hour),
		MonthlyResetAt: now.AddDate(0, 1, 0),
	}
}

// CostOf is the pure cost_of() function: tokensIn/tokensOut priced at
// model's per-1k rate. An unknown model is priced at zero rather than
// erroring, since cost accounting must never be the reason a call is
// rejected after it already happened.
func (b *Budget) CostOf(tokensIn, tokensOut int, model string) float64 {
	rate, ok := b.PerModelRate[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1000*rate.InputPer1K + float64(tokensOut)/1000*rate.OutputPer1K
}
