package risk

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
)

func testManager() *Manager {
	return NewManager(config.DefaultTradingConfig(), zerolog.Nop())
}

func buyPlan(entry float64, qty int64) *domain.TradePlan {
	return &domain.TradePlan{
		ID:              "plan-1",
		Symbol:          "RELIANCE.NS",
		Side:            domain.SideBuy,
		Quantity:        qty,
		Entry:           entry,
		StopLoss:        entry * 0.96,
		Target1:         entry * 1.08,
		RiskRewardRatio: 2.0,
		CapitalRequired: entry * float64(qty),
	}
}

func TestCheckPlanApproved(t *testing.T) {
	res := testManager().CheckPlan(buyPlan(100, 500), Snapshot{Balance: 1_000_000})

	assert.True(t, res.Approved)
	assert.Empty(t, res.Reasons)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "2000", res.Details["stop_out_loss"])
}

func TestCheckPlanRejectsLowRiskReward(t *testing.T) {
	plan := buyPlan(100, 500)
	plan.Target1 = 104
	plan.RiskRewardRatio = 1.0

	res := testManager().CheckPlan(plan, Snapshot{Balance: 1_000_000})
	require.False(t, res.Approved)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "risk/reward 1.00 below minimum 1.50")
}

func TestCheckPlanRejectsMissingOrWildStop(t *testing.T) {
	mgr := testManager()

	plan := buyPlan(100, 500)
	plan.StopLoss = 0
	res := mgr.CheckPlan(plan, Snapshot{Balance: 1_000_000})
	require.False(t, res.Approved)
	assert.Contains(t, res.Reasons[0], "no stop loss")

	plan = buyPlan(100, 500)
	plan.StopLoss = 85 // 15% away
	res = mgr.CheckPlan(plan, Snapshot{Balance: 1_000_000})
	require.False(t, res.Approved)
	assert.Contains(t, res.Reasons[0], "stop distance")
}

func TestCheckPlanRejectsPyramiding(t *testing.T) {
	snap := Snapshot{
		Balance: 1_000_000,
		Positions: []domain.Position{
			{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 95, CurrentPrice: 98, StopLoss: 90},
		},
	}

	res := testManager().CheckPlan(buyPlan(100, 500), snap)
	require.False(t, res.Approved)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "already holding 100 RELIANCE.NS")

	// A different symbol with the same shape passes.
	snap.Positions[0].Symbol = "TCS.NS"
	res = testManager().CheckPlan(buyPlan(100, 500), snap)
	assert.True(t, res.Approved)
}

func TestCheckPlanPositionSizeLimit(t *testing.T) {
	// 300k position against 1M equity breaches the 20% cap.
	res := testManager().CheckPlan(buyPlan(100, 3000), Snapshot{Balance: 1_000_000})

	require.False(t, res.Approved)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "20%")
	assert.Equal(t, "2000", res.Details["max_quantity"])
}

func TestCheckPlanPositionCountLimit(t *testing.T) {
	snap := Snapshot{Balance: 10_000_000}
	for i := 0; i < 10; i++ {
		snap.Positions = append(snap.Positions, domain.Position{
			Symbol:       fmt.Sprintf("STOCK%d.NS", i),
			Quantity:     10,
			AveragePrice: 100,
			CurrentPrice: 100,
			StopLoss:     98,
		})
	}

	res := testManager().CheckPlan(buyPlan(100, 500), snap)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reasons[0], "10 open positions")
}

func TestCheckPlanCumulativeRisk(t *testing.T) {
	// The stopless position risks its full 280k cost basis; equity 380k
	// puts the 30% limit at 114k.
	snap := Snapshot{
		Balance: 100_000,
		Positions: []domain.Position{
			{Symbol: "TCS.NS", Quantity: 100, AveragePrice: 2800, CurrentPrice: 2800},
		},
	}

	res := testManager().CheckPlan(buyPlan(100, 500), snap)
	require.False(t, res.Approved)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "cumulative stop-out risk")
	assert.Equal(t, "282000", res.Details["portfolio_risk_after"])
}

func TestCheckPlanPerTradeBreachRejectedDailyRiskWarns(t *testing.T) {
	// 600 at risk against a 10k balance: past the 2% per-trade budget
	// (rejection) and past the 5% daily budget (warning only).
	res := testManager().CheckPlan(buyPlan(100, 150), Snapshot{Balance: 10_000})

	require.False(t, res.Approved)
	foundReason := false
	for _, r := range res.Reasons {
		if r == "stop-out loss 600 exceeds per-trade budget 200" {
			foundReason = true
		}
	}
	assert.True(t, foundReason, "per-trade breach must reject, got %v", res.Reasons)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "daily budget")
}

func TestCheckPlanRejectsEmptyInputs(t *testing.T) {
	mgr := testManager()

	res := mgr.CheckPlan(nil, Snapshot{Balance: 100_000})
	assert.False(t, res.Approved)

	res = mgr.CheckPlan(buyPlan(100, 10), Snapshot{})
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reasons[0], "balance")
}
