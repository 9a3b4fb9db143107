package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// Budget wraps a core.Budget with the mutex-guarded check-then-spend
// operation the LLM Gateway calls before every non-cached completion.
// Grounded on the same "reserve, don't report after the fact" shape as
// the circuit breaker's startExecution/completeExecution pair in
// circuit_breaker.go — a call must be authorized before it happens, not
// merely recorded afterward.
type Budget struct {
	mu     sync.Mutex
	state  *core.Budget
	logger core.Logger
}

// NewBudget wraps state for Reserve/Spend use. A nil logger is replaced
// with a no-op logger.
func NewBudget(state *core.Budget, logger core.Logger) *Budget {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Budget{state: state, logger: logger}
}

// Reserve checks whether spending cost would push the daily or monthly
// total past its limit, resetting the rolling windows first if they've
// elapsed. It does not mutate state — callers that proceed must call
// Spend once the call actually completes, so a call that errors before
// billing never gets charged.
func (b *Budget) Reserve(cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindowsLocked()

	if b.state.DailyLimit > 0 && b.state.DailyCost+cost > b.state.DailyLimit {
		return fmt.Errorf("%w: daily cost %.4f + %.4f exceeds limit %.4f",
			core.ErrBudgetExceeded, b.state.DailyCost, cost, b.state.DailyLimit)
	}
	if b.state.MonthlyLimit > 0 && b.state.MonthlyCost+cost > b.state.MonthlyLimit {
		return fmt.Errorf("%w: monthly cost %.4f + %.4f exceeds limit %.4f",
			core.ErrBudgetExceeded, b.state.MonthlyCost, cost, b.state.MonthlyLimit)
	}
	return nil
}

// Spend records cost against the daily, monthly and total counters.
// Callers must have called Reserve(cost) first and gotten a nil error;
// Spend itself does not re-check the limits, since the call it's
// billing for has already happened by the time Spend runs.
func (b *Budget) Spend(cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindowsLocked()
	b.state.DailyCost += cost
	b.state.MonthlyCost += cost
	b.state.TotalCost += cost

	b.logger.Debug("budget spend recorded", map[string]interface{}{
		"operation":    "budget_spend",
		"cost":         cost,
		"daily_cost":   b.state.DailyCost,
		"monthly_cost": b.state.MonthlyCost,
	})
}

// CostOf forwards to the wrapped core.Budget's pure pricing function.
func (b *Budget) CostOf(tokensIn, tokensOut int, model string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.CostOf(tokensIn, tokensOut, model)
}

// Snapshot returns a copy of the current budget state for reporting.
func (b *Budget) Snapshot() core.Budget {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.state
}

// rollWindowsLocked resets DailyCost/MonthlyCost once their reset time
// has passed. Callers must hold b.mu.
func (b *Budget) rollWindowsLocked() {
	now := time.Now()
	if !b.state.DailyResetAt.IsZero() && now.After(b.state.DailyResetAt) {
		b.state.DailyCost = 0
		b.state.DailyResetAt = now.Add(24 * time.Hour)
	}
	if !b.state.MonthlyResetAt.IsZero() && now.After(b.state.MonthlyResetAt) {
		b.state.MonthlyCost = 0
		b.state.MonthlyResetAt = now.AddDate(0, 1, 0)
	}
}
