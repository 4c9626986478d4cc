// Package autotrader is the conductor: it scans the watchlist, gates
// signals through thresholds, cooldowns, and the circuit breaker, and
// hands surviving plans to risk and execution.
package autotrader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/executor"
	"github.com/niveshlabs/nivesh/internal/markethours"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/internal/planner"
	"github.com/niveshlabs/nivesh/internal/risk"
)

// accuracyWindow is the rolling window behind the adaptive threshold and
// the breaker's accuracy gate.
const accuracyWindow = 30 * 24 * time.Hour

// SignalGenerator produces the consensus signal for one ticker.
type SignalGenerator interface {
	Generate(ctx context.Context, ticker string) (*domain.MultiTimeframeSignal, error)
}

// PortfolioFunc supplies the current balance and open positions. Paper
// mode reads the ledger; live mode reads the broker.
type PortfolioFunc func(ctx context.Context) (risk.Snapshot, error)

// TickerOutcome records what happened to one ticker during a scan.
type TickerOutcome struct {
	Ticker      string            `json:"ticker"`
	Signal      domain.SignalKind `json:"signal,omitempty"`
	Probability float64           `json:"probability,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// ScanResult summarizes one scan-and-execute pass.
type ScanResult struct {
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Skipped    bool            `json:"skipped"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Scanned    int             `json:"scanned"`
	Executed   []TickerOutcome `json:"executed_signals,omitempty"`
	Rejected   []TickerOutcome `json:"rejected_signals,omitempty"`
}

// AutoTrader drives the scan → filter → size → risk-check → execute cycle.
type AutoTrader struct {
	generator SignalGenerator
	planner   *planner.Planner
	plans     *planner.Store
	riskMgr   *risk.Manager
	exec      *executor.Executor
	breaker   *CircuitBreaker
	cooldowns *Cooldowns
	tracker   *models.Tracker
	hours     *markethours.Service
	portfolio PortfolioFunc
	cfg       config.TradingConfig
	log       zerolog.Logger
	now       func() time.Time

	running atomic.Bool
	scanMu  sync.Mutex

	watchMu   sync.RWMutex
	watchlist []string
}

// New creates the auto-trader in the STOPPED state.
func New(
	generator SignalGenerator,
	plnr *planner.Planner,
	plans *planner.Store,
	riskMgr *risk.Manager,
	exec *executor.Executor,
	breaker *CircuitBreaker,
	cooldowns *Cooldowns,
	tracker *models.Tracker,
	hours *markethours.Service,
	portfolio PortfolioFunc,
	cfg config.TradingConfig,
	log zerolog.Logger,
) *AutoTrader {
	return &AutoTrader{
		generator: generator,
		planner:   plnr,
		plans:     plans,
		riskMgr:   riskMgr,
		exec:      exec,
		breaker:   breaker,
		cooldowns: cooldowns,
		tracker:   tracker,
		hours:     hours,
		portfolio: portfolio,
		cfg:       cfg,
		log:       log.With().Str("component", "autotrader").Logger(),
		now:       time.Now,
	}
}

// Start enables scanning.
func (t *AutoTrader) Start() {
	if t.running.CompareAndSwap(false, true) {
		t.log.Info().Msg("Auto-trader started")
	}
}

// Stop disables scanning. A scan in flight finishes its current ticker.
func (t *AutoTrader) Stop() {
	if t.running.CompareAndSwap(true, false) {
		t.log.Info().Msg("Auto-trader stopped")
	}
}

// Running reports whether scans are enabled.
func (t *AutoTrader) Running() bool { return t.running.Load() }

// SetWatchlist replaces the scanned ticker set.
func (t *AutoTrader) SetWatchlist(tickers []string) {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	t.watchlist = append([]string(nil), tickers...)
}

// Watchlist returns a copy of the scanned ticker set.
func (t *AutoTrader) Watchlist() []string {
	t.watchMu.RLock()
	defer t.watchMu.RUnlock()
	return append([]string(nil), t.watchlist...)
}

// ScanAndExecute runs one pass over the watchlist. Concurrent calls do
// not queue: if a scan is already in flight the call returns skipped.
func (t *AutoTrader) ScanAndExecute(ctx context.Context, tradingType domain.TradingType) *ScanResult {
	result := &ScanResult{StartedAt: t.now()}

	if !t.running.Load() {
		result.Skipped, result.SkipReason = true, "auto-trader not running"
		return result
	}
	if !t.scanMu.TryLock() {
		result.Skipped, result.SkipReason = true, "scan already in progress"
		t.log.Debug().Msg("Scan skipped, previous scan still running")
		return result
	}
	defer t.scanMu.Unlock()

	if !t.hours.IsMarketOpen(t.now()) {
		result.Skipped, result.SkipReason = true, "market closed"
		return result
	}

	snap, err := t.portfolio(ctx)
	if err != nil {
		result.Skipped, result.SkipReason = true, "portfolio unavailable: "+err.Error()
		t.log.Error().Err(err).Msg("Scan aborted, portfolio unavailable")
		return result
	}

	for _, ticker := range t.Watchlist() {
		if ctx.Err() != nil {
			break
		}
		if !t.running.Load() {
			break
		}
		result.Scanned++
		t.scanTicker(ctx, ticker, tradingType, snap, result)
	}

	result.Duration = t.now().Sub(result.StartedAt)
	t.log.Info().Int("scanned", result.Scanned).
		Int("executed", len(result.Executed)).Int("rejected", len(result.Rejected)).
		Dur("duration", result.Duration).Msg("Scan complete")
	return result
}

// scanTicker runs one ticker through the full pipeline; failures become
// rejection records, never panics or aborts.
func (t *AutoTrader) scanTicker(ctx context.Context, ticker string, tradingType domain.TradingType, snap risk.Snapshot, result *ScanResult) {
	sig, err := t.generator.Generate(ctx, ticker)
	if err != nil {
		result.Rejected = append(result.Rejected, TickerOutcome{
			Ticker: ticker, Reason: "signal generation failed: " + err.Error(),
		})
		return
	}

	outcome := TickerOutcome{
		Ticker:      ticker,
		Signal:      sig.ConsensusSignal,
		Probability: sig.Probability,
		Confidence:  sig.Confidence,
	}

	res := t.ExecuteSignal(ctx, sig, tradingType, snap)
	if res.Success {
		outcome.OrderID = res.OrderID
		result.Executed = append(result.Executed, outcome)
		return
	}
	outcome.Reason = res.Reason
	result.Rejected = append(result.Rejected, outcome)
}

// ExecuteSignal runs the precondition gates and, when they all pass,
// builds, risk-checks, and executes a buy plan for the signal. Every
// rejection is a structured result, never an error.
func (t *AutoTrader) ExecuteSignal(ctx context.Context, sig *domain.MultiTimeframeSignal, tradingType domain.TradingType, snap risk.Snapshot) domain.ExecutionResult {
	reject := func(reason string) domain.ExecutionResult {
		return domain.ExecutionResult{Symbol: sig.Ticker, Side: domain.SideBuy, Reason: reason, Timestamp: t.now()}
	}

	perf := t.rollingPerformance()
	if blocked, _ := t.breaker.Check(equity(snap), perf); blocked {
		return reject("Circuit breaker active")
	}

	if !sig.ConsensusSignal.Bullish() {
		return reject("not a buy signal")
	}
	if t.cooldowns.Active(sig.Ticker) {
		return reject("ticker cooling down after recent loss")
	}
	if threshold := t.effectiveThreshold(sig, perf); sig.Confidence < threshold {
		return reject(fmt.Sprintf("confidence %.2f below threshold %.2f", sig.Confidence, threshold))
	}

	plan, err := t.planner.BuildPlan(sig, tradingType, snap.Balance)
	if err != nil {
		return reject("planning failed: " + err.Error())
	}

	if check := t.riskMgr.CheckPlan(plan, snap); !check.Approved {
		return reject("risk check failed: " + strings.Join(check.Reasons, "; "))
	}
	plan.Status = domain.PlanApproved
	if err := t.plans.Save(plan); err != nil {
		t.log.Warn().Err(err).Str("symbol", plan.Symbol).Msg("Failed to persist approved plan")
	}

	res := t.exec.ExecuteBuy(ctx, plan, sig)
	if res.Success {
		if err := t.plans.SetStatus(plan.ID, domain.PlanExecuted, res.OrderID); err != nil {
			t.log.Warn().Err(err).Str("plan", plan.ID).Msg("Failed to mark plan executed")
		}
	}
	return res
}

// effectiveThreshold applies the regime substitution and the adaptive
// accuracy floor to the base confidence threshold.
func (t *AutoTrader) effectiveThreshold(sig *domain.MultiTimeframeSignal, perf models.ModelPerformance) float64 {
	threshold := t.cfg.ConfidenceThreshold

	if t.cfg.UseRegimeThresholds {
		switch signalRegime(sig) {
		case domain.RegimeRanging:
			threshold = t.cfg.ConfidenceThresholdRanging
		case domain.RegimeStrongTrend, domain.RegimeWeakTrend:
			threshold = t.cfg.ConfidenceThresholdTrending
		}
	}

	if t.cfg.UseAdaptiveThreshold && perf.Samples >= minAccuracySamples && perf.Accuracy < 0.5 {
		if t.cfg.AdaptiveThresholdFloor > threshold {
			threshold = t.cfg.AdaptiveThresholdFloor
		}
	}
	return threshold
}

// UpdatePnL folds a realized outcome into the breaker and, on a loss,
// starts the ticker's cooldown. Wired as the executor's P&L callback.
func (t *AutoTrader) UpdatePnL(pnl float64, ticker string) {
	t.breaker.UpdatePnL(pnl)
	if pnl < 0 && ticker != "" {
		if err := t.cooldowns.RecordLoss(ticker); err != nil {
			t.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to record ticker cooldown")
		}
	}
}

// ResetDailyPnL zeroes the day's P&L; called by the pre-market task.
func (t *AutoTrader) ResetDailyPnL() { t.breaker.ResetDailyPnL() }

// Breaker exposes the circuit breaker for status and manual reset.
func (t *AutoTrader) Breaker() *CircuitBreaker { return t.breaker }

func (t *AutoTrader) rollingPerformance() models.ModelPerformance {
	perf, err := t.tracker.Performance("", accuracyWindow)
	if err != nil {
		t.log.Warn().Err(err).Msg("Failed to load rolling model performance")
		return models.ModelPerformance{}
	}
	return perf
}

// signalRegime picks the regime from the slowest frame that reports one.
func signalRegime(sig *domain.MultiTimeframeSignal) domain.Regime {
	order := []domain.Interval{domain.Interval1d, domain.Interval1h, domain.Interval15m, domain.Interval5m}
	for _, iv := range order {
		if frame, ok := sig.Breakdown[iv]; ok && frame.Regime != "" {
			return frame.Regime
		}
	}
	return ""
}

func equity(snap risk.Snapshot) float64 {
	total := snap.Balance
	for _, pos := range snap.Positions {
		total += float64(pos.Quantity) * pos.CurrentPrice
	}
	return total
}
