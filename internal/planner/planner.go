// Package planner turns a signal into an executable trade plan: levels
// shaped to the trading type, position sized from account risk, orders
// typed, and the plan validated.
package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
)

// Stop and target widths per trading type, as fractions of entry. SWING
// keeps the signal's own levels.
const (
	intradayStopPct    = 0.02
	intradayTarget1Pct = 0.01
	intradayTarget2Pct = 0.015
	positionStopPct    = 0.05
	positionTarget1Pct = 0.05
	positionTarget2Pct = 0.10
)

// Stop-distance sanity band: outside it the plan carries a warning.
const (
	minStopDistancePct = 0.01
	maxStopDistancePct = 0.10
)

// Planner builds trade plans.
type Planner struct {
	cfg config.TradingConfig
	log zerolog.Logger
	now func() time.Time
}

// NewPlanner creates a planner bound to the trading config.
func NewPlanner(cfg config.TradingConfig, log zerolog.Logger) *Planner {
	return &Planner{
		cfg: cfg,
		log: log.With().Str("component", "planner").Logger(),
		now: time.Now,
	}
}

// BuildPlan sizes and validates a plan for the signal. balance is the
// deployable account equity. Only directional signals plan; a HOLD is a
// caller error.
func (p *Planner) BuildPlan(sig *domain.MultiTimeframeSignal, tradingType domain.TradingType, balance float64) (*domain.TradePlan, error) {
	if sig == nil || !sig.ConsensusSignal.Directional() {
		return nil, fmt.Errorf("%w: cannot plan a non-directional signal", domain.ErrValidationFailed)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("%w: non-positive balance", domain.ErrValidationFailed)
	}

	side := domain.SideBuy
	if sig.ConsensusSignal.Bearish() {
		side = domain.SideSell
	}

	levels := adjustLevels(sig.Levels, side, tradingType)
	if levels.Entry <= 0 || levels.StopLoss <= 0 {
		return nil, fmt.Errorf("%w: signal carries no usable levels", domain.ErrValidationFailed)
	}

	plan := &domain.TradePlan{
		ID:          uuid.NewString(),
		Symbol:      sig.Ticker,
		Side:        side,
		TradingType: tradingType,
		Entry:       levels.Entry,
		StopLoss:    levels.StopLoss,
		Target1:     levels.Target1,
		Target2:     levels.Target2,
		Product:     productFor(tradingType),
		Validity:    domain.ValidityDay,
		Status:      domain.PlanDraft,
		CreatedAt:   p.now(),
	}

	p.size(plan, balance)
	if plan.Quantity <= 0 {
		return nil, fmt.Errorf("%w: risk budget too small for one share at %.2f", domain.ErrValidationFailed, plan.Entry)
	}

	p.derive(plan)
	plan.OrderType = orderTypeFor(tradingType)
	p.validate(plan)

	p.log.Info().Str("plan_id", plan.ID).Str("symbol", plan.Symbol).
		Str("side", string(side)).Int64("quantity", plan.Quantity).
		Float64("entry", plan.Entry).Float64("stop", plan.StopLoss).
		Msg("Trade plan built")
	return plan, nil
}

// adjustLevels reshapes stop and targets to the trading type's widths.
// SWING trusts the signal's structure-derived levels as-is.
func adjustLevels(levels domain.Levels, side domain.Side, tradingType domain.TradingType) domain.Levels {
	if tradingType == domain.TradingSwing {
		return levels
	}

	stopPct, t1Pct, t2Pct := positionStopPct, positionTarget1Pct, positionTarget2Pct
	if tradingType == domain.TradingIntraday {
		stopPct, t1Pct, t2Pct = intradayStopPct, intradayTarget1Pct, intradayTarget2Pct
	}

	entry := levels.Entry
	if side == domain.SideSell {
		return domain.Levels{
			Entry:    entry,
			StopLoss: entry * (1 + stopPct),
			Target1:  entry * (1 - t1Pct),
			Target2:  entry * (1 - t2Pct),
		}
	}
	return domain.Levels{
		Entry:    entry,
		StopLoss: entry * (1 - stopPct),
		Target1:  entry * (1 + t1Pct),
		Target2:  entry * (1 + t2Pct),
	}
}

func productFor(tradingType domain.TradingType) domain.Product {
	if tradingType == domain.TradingIntraday {
		return domain.ProductIntraday
	}
	return domain.ProductDelivery
}

// size allocates quantity so the stop-out loses at most max_risk_per_trade
// of the balance. A plan that affords at least one share always gets one;
// tiny accounts still trade the minimum.
func (p *Planner) size(plan *domain.TradePlan, balance float64) {
	riskAmount := balance * p.cfg.MaxRiskPerTrade
	perShare := math.Abs(plan.Entry - plan.StopLoss)
	if perShare <= 0 {
		plan.Quantity = 0
		return
	}

	qty := int64(riskAmount / perShare)
	if qty < 1 && balance >= plan.Entry {
		qty = 1
	}

	// Cap by what the balance can actually carry.
	if maxAffordable := int64(balance / plan.Entry); qty > maxAffordable {
		qty = maxAffordable
	}

	plan.Quantity = qty
	plan.RiskAmount = riskAmount
}

// derive fills the dependent money fields.
func (p *Planner) derive(plan *domain.TradePlan) {
	perShare := math.Abs(plan.Entry - plan.StopLoss)
	reward := math.Abs(plan.Target1 - plan.Entry)

	plan.CapitalRequired = float64(plan.Quantity) * plan.Entry
	plan.MaxLoss = float64(plan.Quantity) * perShare
	if perShare > 0 {
		plan.RiskRewardRatio = reward / perShare
	}
}

// orderTypeFor picks MARKET for intraday entries, where fill speed beats
// price; swing and position entries ride a limit at the plan's entry.
func orderTypeFor(tradingType domain.TradingType) domain.OrderType {
	if tradingType == domain.TradingIntraday {
		return domain.OrderMarket
	}
	return domain.OrderLimit
}

// validate attaches warnings for suspect but tradable plans. Hard failures
// were already rejected during sizing.
func (p *Planner) validate(plan *domain.TradePlan) {
	stopDist := math.Abs(plan.Entry-plan.StopLoss) / plan.Entry
	if stopDist < minStopDistancePct {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("stop distance %.2f%% below %.0f%% minimum", stopDist*100, minStopDistancePct*100))
	}
	if stopDist > maxStopDistancePct {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("stop distance %.2f%% above %.0f%% maximum", stopDist*100, maxStopDistancePct*100))
	}
	if plan.RiskRewardRatio < 1.0 {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("risk/reward %.2f below 1.0", plan.RiskRewardRatio))
	}
}
