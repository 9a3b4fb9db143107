package resilience

import (
	"errors"
	"testing"

	"github.com/artemis-eng/artemis/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBudget(daily, monthly float64) *Budget {
	return NewBudget(core.NewBudget(daily, monthly), nil)
}

func TestBudgetReserveAllowsWithinLimit(t *testing.T) {
	b := newTestBudget(10, 100)
	require.NoError(t, b.Reserve(5))
}

func TestBudgetReserveRejectsOverDailyLimit(t *testing.T) {
	b := newTestBudget(10, 100)
	err := b.Reserve(11)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBudgetExceeded))
}

func TestBudgetReserveRejectsOverMonthlyLimit(t *testing.T) {
	b := newTestBudget(1000, 10)
	err := b.Reserve(11)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBudgetExceeded))
}

func TestBudgetSpendAccumulatesAcrossCalls(t *testing.T) {
	b := newTestBudget(10, 100)
	require.NoError(t, b.Reserve(4))
	b.Spend(4)
	require.NoError(t, b.Reserve(4))
	b.Spend(4)

	err := b.Reserve(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBudgetExceeded))

	snap := b.Snapshot()
	assert.Equal(t, 8.0, snap.DailyCost)
	assert.Equal(t, 8.0, snap.TotalCost)
}

func TestBudgetCostOfDelegatesToCoreBudget(t *testing.T) {
	b := newTestBudget(10, 100)
	cost := b.CostOf(1000, 1000, "gpt-4")
	assert.InDelta(t, 0.09, cost, 0.0001)
}

func TestBudgetReserveZeroLimitMeansUnbounded(t *testing.T) {
	b := newTestBudget(0, 0)
	require.NoError(t, b.Reserve(1_000_000))
}
