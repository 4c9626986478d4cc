package autotrader

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/models"
)

// minAccuracySamples is the evaluation count below which the accuracy
// gate stays silent.
const minAccuracySamples = 5

// BreakerState is a snapshot of the circuit breaker for status reporting.
type BreakerState struct {
	Triggered         bool      `json:"triggered"`
	Reason            string    `json:"reason,omitempty"`
	TriggeredAt       time.Time `json:"triggered_at,omitempty"`
	CooldownEnd       time.Time `json:"cooldown_end,omitempty"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyPnL          float64   `json:"daily_pnl"`
}

// CircuitBreaker blocks trading on loss streaks, daily drawdown, or model
// accuracy decay. It trips once and stays tripped for the cooldown window;
// expiry clears the trigger and the loss streak but keeps the day's P&L.
type CircuitBreaker struct {
	cfg config.TradingConfig
	log zerolog.Logger
	now func() time.Time

	mu                sync.Mutex
	triggered         bool
	reason            string
	triggeredAt       time.Time
	cooldownEnd       time.Time
	consecutiveLosses int
	dailyPnL          float64
}

// NewCircuitBreaker creates a breaker in the untripped state.
func NewCircuitBreaker(cfg config.TradingConfig, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg: cfg,
		log: log.With().Str("component", "circuitbreaker").Logger(),
		now: time.Now,
	}
}

// Check evaluates every trip condition and reports whether trading is
// blocked. portfolioValue scales the percentage drawdown limit; perf is
// the rolling accuracy of the active model or ensemble.
func (b *CircuitBreaker) Check(portfolioValue float64, perf models.ModelPerformance) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.triggered {
		if now.Before(b.cooldownEnd) {
			return true, "Circuit breaker active"
		}
		// Cooldown expired: clear the streak, keep the day's P&L.
		b.triggered = false
		b.reason = ""
		b.consecutiveLosses = 0
		b.log.Info().Msg("Circuit breaker cooldown expired")
	}

	reason := b.tripReason(portfolioValue, perf)
	if reason == "" {
		return false, ""
	}

	b.triggered = true
	b.reason = reason
	b.triggeredAt = now
	b.cooldownEnd = now.Add(time.Duration(b.cfg.CooldownMinutes) * time.Minute)
	b.log.Warn().Str("reason", reason).Time("cooldown_end", b.cooldownEnd).
		Msg("Circuit breaker tripped")
	return true, reason
}

func (b *CircuitBreaker) tripReason(portfolioValue float64, perf models.ModelPerformance) string {
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		return fmt.Sprintf("%d consecutive losses", b.consecutiveLosses)
	}
	if b.dailyPnL < 0 {
		loss := math.Abs(b.dailyPnL)
		if portfolioValue > 0 && b.cfg.DailyLossLimitPct > 0 && loss/portfolioValue >= b.cfg.DailyLossLimitPct {
			return fmt.Sprintf("daily loss %.0f is %.1f%% of portfolio", loss, loss/portfolioValue*100)
		}
		if b.cfg.DailyLossLimitAmount > 0 && loss >= b.cfg.DailyLossLimitAmount {
			return fmt.Sprintf("daily loss %.0f breached the absolute limit", loss)
		}
	}
	if b.cfg.MinAccuracy > 0 && perf.Samples >= minAccuracySamples && perf.Accuracy < b.cfg.MinAccuracy {
		return fmt.Sprintf("30-day accuracy %.2f below %.2f", perf.Accuracy, b.cfg.MinAccuracy)
	}
	return ""
}

// UpdatePnL folds a realized trade outcome into the day's running totals.
func (b *CircuitBreaker) UpdatePnL(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dailyPnL += pnl
	if pnl < 0 {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
	}
}

// ResetDailyPnL zeroes the day's P&L; called by the pre-market task.
func (b *CircuitBreaker) ResetDailyPnL() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyPnL = 0
}

// Reset manually clears the breaker entirely.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.triggered = false
	b.reason = ""
	b.consecutiveLosses = 0
	b.cooldownEnd = time.Time{}
	b.log.Info().Msg("Circuit breaker manually reset")
}

// State returns a snapshot for status reporting.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerState{
		Triggered:         b.triggered,
		Reason:            b.reason,
		TriggeredAt:       b.triggeredAt,
		CooldownEnd:       b.cooldownEnd,
		ConsecutiveLosses: b.consecutiveLosses,
		DailyPnL:          b.dailyPnL,
	}
}
