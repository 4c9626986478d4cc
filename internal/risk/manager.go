// Package risk checks trade plans against per-trade and portfolio limits.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
)

// Result is the outcome of a risk check. A failed check names every
// violated limit; warnings do not block.
type Result struct {
	Approved bool              `json:"approved"`
	Reasons  []string          `json:"reasons,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Snapshot is the portfolio state the checks run against.
type Snapshot struct {
	Balance   float64
	Positions []domain.Position
	DailyPnL  float64
}

// Manager enforces the risk limits from the trading config.
type Manager struct {
	cfg config.TradingConfig
	log zerolog.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg config.TradingConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		log: log.With().Str("component", "risk").Logger(),
	}
}

// CheckPlan runs every gate. The plan is approved only when no hard limit
// is violated; details carry the numbers the decision was made on,
// including the largest quantity that would have passed.
func (m *Manager) CheckPlan(plan *domain.TradePlan, snap Snapshot) Result {
	res := Result{Approved: true, Details: make(map[string]string)}

	if plan == nil || plan.Quantity <= 0 {
		return Result{Reasons: []string{"plan has no quantity"}}
	}
	if snap.Balance <= 0 {
		return Result{Reasons: []string{"no deployable balance"}}
	}

	equity := m.equity(snap)
	m.checkStopPlacement(plan, &res)
	m.checkRiskReward(plan, &res)
	m.checkExistingPosition(plan, snap, &res)
	m.checkPositionSize(plan, equity, &res)
	m.checkPositionCount(snap, &res)
	m.checkCumulativeRisk(plan, snap, equity, &res)
	m.checkPerTradeRisk(plan, snap.Balance, &res)
	m.checkDailyRisk(plan, equity, &res)

	if len(res.Reasons) > 0 {
		res.Approved = false
		m.log.Warn().Str("symbol", plan.Symbol).Strs("reasons", res.Reasons).
			Msg("Trade plan rejected by risk checks")
	}
	return res
}

// equity is cash plus the market value of open positions.
func (m *Manager) equity(snap Snapshot) float64 {
	total := snap.Balance
	for _, pos := range snap.Positions {
		total += float64(pos.Quantity) * pos.CurrentPrice
	}
	return total
}

// Stop-distance sanity band as a fraction of entry.
const (
	minStopDistance = 0.005
	maxStopDistance = 0.10
)

// checkStopPlacement requires a stop within the sane distance band.
func (m *Manager) checkStopPlacement(plan *domain.TradePlan, res *Result) {
	if plan.StopLoss <= 0 {
		res.Reasons = append(res.Reasons, "plan has no stop loss")
		return
	}
	dist := math.Abs(plan.Entry-plan.StopLoss) / plan.Entry
	res.Details["stop_distance_pct"] = fmt.Sprintf("%.2f", dist*100)
	if dist < minStopDistance || dist > maxStopDistance {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"stop distance %.2f%% outside %.1f%%-%.0f%% band",
			dist*100, minStopDistance*100, maxStopDistance*100))
	}
}

// checkRiskReward enforces the configured floor on target-1 reward per
// unit of stop-out risk.
func (m *Manager) checkRiskReward(plan *domain.TradePlan, res *Result) {
	if plan.RiskRewardRatio < m.cfg.MinRiskRewardRatio {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"risk/reward %.2f below minimum %.2f",
			plan.RiskRewardRatio, m.cfg.MinRiskRewardRatio))
	}
}

// checkExistingPosition rejects pyramiding: one open position per symbol.
func (m *Manager) checkExistingPosition(plan *domain.TradePlan, snap Snapshot, res *Result) {
	for _, pos := range snap.Positions {
		if pos.Symbol == plan.Symbol {
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"already holding %d %s", pos.Quantity, pos.Symbol))
			return
		}
	}
}

// checkPositionSize caps a single position at max_position_size of equity.
func (m *Manager) checkPositionSize(plan *domain.TradePlan, equity float64, res *Result) {
	limit := equity * m.cfg.MaxPositionSize
	if plan.CapitalRequired > limit {
		maxQty := int64(limit / plan.Entry)
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"position %.0f exceeds %.0f%% of equity (%.0f)",
			plan.CapitalRequired, m.cfg.MaxPositionSize*100, limit))
		res.Details["max_quantity"] = fmt.Sprintf("%d", maxQty)
	}
}

// checkPositionCount enforces the open-position ceiling.
func (m *Manager) checkPositionCount(snap Snapshot, res *Result) {
	if len(snap.Positions) >= m.cfg.MaxOpenPositions {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"already %d open positions (limit %d)", len(snap.Positions), m.cfg.MaxOpenPositions))
	}
}

// positionRisk is the stop-out exposure of an open position. A position
// without a stop risks its full cost basis.
func positionRisk(pos domain.Position) float64 {
	if pos.StopLoss > 0 {
		return float64(pos.Quantity) * math.Abs(pos.AveragePrice-pos.StopLoss)
	}
	return float64(pos.Quantity) * pos.AveragePrice
}

// checkCumulativeRisk caps the summed stop-out exposure of every open
// position plus the proposed plan at max_portfolio_risk of equity.
func (m *Manager) checkCumulativeRisk(plan *domain.TradePlan, snap Snapshot, equity float64, res *Result) {
	atRisk := float64(plan.Quantity) * math.Abs(plan.Entry-plan.StopLoss)
	for _, pos := range snap.Positions {
		atRisk += positionRisk(pos)
	}
	limit := equity * m.cfg.MaxPortfolioRisk
	res.Details["portfolio_risk_after"] = fmt.Sprintf("%.0f", atRisk)
	if atRisk > limit {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"cumulative stop-out risk %.0f exceeds %.0f%% of equity (%.0f)",
			atRisk, m.cfg.MaxPortfolioRisk*100, limit))
	}
}

// checkPerTradeRisk rejects plans whose stop-out loss exceeds the
// per-trade risk budget. Sizing rounds down, so only min-one-share plans
// on small accounts can breach.
func (m *Manager) checkPerTradeRisk(plan *domain.TradePlan, balance float64, res *Result) {
	budget := balance * m.cfg.MaxRiskPerTrade
	loss := float64(plan.Quantity) * math.Abs(plan.Entry-plan.StopLoss)
	res.Details["stop_out_loss"] = fmt.Sprintf("%.0f", loss)
	if loss > budget*1.001 {
		res.Reasons = append(res.Reasons, fmt.Sprintf(
			"stop-out loss %.0f exceeds per-trade budget %.0f", loss, budget))
	}
}

// checkDailyRisk warns when the proposed risk alone crosses the daily
// risk budget. Realized daily losses are the circuit breaker's gate, not
// this one.
func (m *Manager) checkDailyRisk(plan *domain.TradePlan, equity float64, res *Result) {
	proposed := float64(plan.Quantity) * math.Abs(plan.Entry-plan.StopLoss)
	budget := equity * m.cfg.MaxDailyRisk
	if proposed > budget {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"proposed risk %.0f exceeds %.0f%% daily budget (%.0f)",
			proposed, m.cfg.MaxDailyRisk*100, budget))
	}
}
