package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/autotrader"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/executor"
	"github.com/niveshlabs/nivesh/internal/journal"
	"github.com/niveshlabs/nivesh/internal/markethours"
)

// Cron schedules for the three daily phases, evaluated in IST.
const (
	preMarketSpec  = "0 9 * * MON-FRI"
	postMarketSpec = "45 15 * * MON-FRI"
	tickInterval   = time.Minute
)

// WorkflowState tracks which phases ran today. Reset implicitly by the
// next pre-market run.
type WorkflowState struct {
	Day                 string `json:"day"`
	PreMarketCompleted  bool   `json:"pre_market_completed"`
	MarketHoursActive   bool   `json:"market_hours_active"`
	PostMarketCompleted bool   `json:"post_market_completed"`
}

// Workflow sequences the trading day: a pre-market focus scan, the
// market-hours tick, and the post-market cleanup.
type Workflow struct {
	trader     *autotrader.AutoTrader
	generator  autotrader.SignalGenerator
	exec       *executor.Executor
	jrnl       *journal.Journal
	portfolio  autotrader.PortfolioFunc
	hours      *markethours.Service
	backup     func(ctx context.Context) error
	purge      func() error
	exportPath string
	universe   []string
	topN       int
	log        zerolog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state WorkflowState
}

// WorkflowDeps carries the workflow's collaborators. Backup and Purge are
// optional maintenance hooks.
type WorkflowDeps struct {
	Trader    *autotrader.AutoTrader
	Generator autotrader.SignalGenerator
	Executor  *executor.Executor
	Journal   *journal.Journal
	Portfolio autotrader.PortfolioFunc
	Hours     *markethours.Service
	Backup    func(ctx context.Context) error
	Purge     func() error
	// ExportPath is where the day's executions are mirrored as JSON.
	ExportPath string
	Universe   []string
	TopN       int
}

// NewWorkflow creates the daily workflow over the full scan universe.
func NewWorkflow(deps WorkflowDeps, log zerolog.Logger) *Workflow {
	topN := deps.TopN
	if topN <= 0 {
		topN = 10
	}
	return &Workflow{
		trader:     deps.Trader,
		generator:  deps.Generator,
		exec:       deps.Executor,
		jrnl:       deps.Journal,
		portfolio:  deps.Portfolio,
		hours:      deps.Hours,
		backup:     deps.Backup,
		purge:      deps.Purge,
		exportPath: deps.ExportPath,
		universe:   append([]string(nil), deps.Universe...),
		topN:       topN,
		log:        log.With().Str("component", "workflow").Logger(),
		now:        time.Now,
	}
}

// Register wires the three phases into the scheduler.
func (w *Workflow) Register(s *Scheduler) error {
	if err := s.AddDaily(preMarketSpec, JobFunc{"pre_market_scan", w.PreMarket}); err != nil {
		return err
	}
	if err := s.AddDaily(postMarketSpec, JobFunc{"post_market_cleanup", w.PostMarket}); err != nil {
		return err
	}
	s.AddInterval(tickInterval, JobFunc{"trading_tick", w.Tick}, w.hours.IsMarketOpen)
	return nil
}

// PreMarket resets the day's P&L, scans the whole universe on the daily
// timeframe, and narrows the trader's watchlist to the top-N by
// probability.
func (w *Workflow) PreMarket(ctx context.Context) error {
	w.trader.ResetDailyPnL()

	type ranked struct {
		ticker string
		prob   float64
	}
	var candidates []ranked
	for _, ticker := range w.universe {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sig, err := w.generator.Generate(ctx, ticker)
		if err != nil {
			w.log.Warn().Err(err).Str("ticker", ticker).Msg("Pre-market signal failed")
			continue
		}
		if sig.ConsensusSignal.Bullish() {
			candidates = append(candidates, ranked{ticker: ticker, prob: sig.Probability})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].prob > candidates[j].prob })
	if len(candidates) > w.topN {
		candidates = candidates[:w.topN]
	}

	focus := make([]string, 0, len(candidates))
	for _, c := range candidates {
		focus = append(focus, c.ticker)
	}
	w.trader.SetWatchlist(focus)

	w.mu.Lock()
	w.state = WorkflowState{Day: w.today(), PreMarketCompleted: true}
	w.mu.Unlock()

	w.log.Info().Int("universe", len(w.universe)).Strs("focus", focus).
		Msg("Pre-market scan complete")
	return nil
}

// Tick is the market-hours heartbeat: monitor exits, then scan for
// entries on the intraday timeframes.
func (w *Workflow) Tick(ctx context.Context) error {
	w.mu.Lock()
	w.state.MarketHoursActive = true
	w.mu.Unlock()

	snap, err := w.portfolio(ctx)
	if err != nil {
		return fmt.Errorf("trading tick aborted: %w", err)
	}
	sigs := w.positionSignals(ctx, snap.Positions)
	if exits := w.exec.CheckAndExitPositions(ctx, snap.Positions, sigs); len(exits) > 0 {
		w.log.Info().Int("exits", len(exits)).Msg("Exit conditions fired")
	}

	w.trader.ScanAndExecute(ctx, domain.TradingIntraday)
	return nil
}

// positionSignals refreshes the consensus read for each held symbol so a
// bearish turn can force an exit before any level is touched.
func (w *Workflow) positionSignals(ctx context.Context, positions []domain.Position) map[string]domain.SignalKind {
	if len(positions) == 0 {
		return nil
	}
	sigs := make(map[string]domain.SignalKind, len(positions))
	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}
		sig, err := w.generator.Generate(ctx, pos.Symbol)
		if err != nil {
			w.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Exit signal refresh failed")
			continue
		}
		sigs[pos.Symbol] = sig.ConsensusSignal
	}
	return sigs
}

// PostMarket closes intraday positions, emits the daily report, and runs
// the maintenance hooks. Delivery positions survive.
func (w *Workflow) PostMarket(ctx context.Context) error {
	w.mu.Lock()
	w.state.MarketHoursActive = false
	w.mu.Unlock()

	snap, err := w.portfolio(ctx)
	if err != nil {
		return fmt.Errorf("post-market cleanup aborted: %w", err)
	}
	if exits := w.exec.CloseIntraday(ctx, snap.Positions); len(exits) > 0 {
		w.log.Info().Int("closed", len(exits)).Msg("Intraday positions closed")
	}

	if w.jrnl != nil {
		report, err := w.jrnl.DailyReport(ctx, w.now())
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to build daily report")
		} else {
			w.log.Info().Int("trades", report.Trades).Int("wins", report.Wins).
				Int("losses", report.Losses).Float64("gross_pnl", report.GrossPnL).
				Float64("win_rate", report.WinRate).Str("best", report.BestSymbol).
				Str("worst", report.WorstSymbol).Msg("Daily report")
		}
		if w.exportPath != "" {
			if err := w.jrnl.ExportDay(ctx, w.now(), w.exportPath); err != nil {
				w.log.Warn().Err(err).Msg("Failed to export trade journal")
			}
		}
	}

	if w.purge != nil {
		if err := w.purge(); err != nil {
			w.log.Warn().Err(err).Msg("Cache purge failed")
		}
	}
	if w.backup != nil {
		if err := w.backup(ctx); err != nil {
			w.log.Error().Err(err).Msg("Post-market backup failed")
		}
	}

	w.mu.Lock()
	w.state.PostMarketCompleted = true
	w.mu.Unlock()
	return nil
}

// State returns the day's phase flags.
func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) today() string {
	return w.now().In(w.hours.Location()).Format("2006-01-02")
}
