package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/autotrader"
	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/executor"
	"github.com/niveshlabs/nivesh/internal/markethours"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/internal/planner"
	"github.com/niveshlabs/nivesh/internal/risk"
)

func TestAddDailyRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	err := s.AddDaily("not a cron spec", JobFunc{"bad", func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestIntervalJobRunsAndStops(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	var runs atomic.Int64
	s.AddInterval(5*time.Millisecond, JobFunc{"tick", func(context.Context) error {
		runs.Add(1)
		return nil
	}}, nil)

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestIntervalGateBlocksTicks(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	var runs atomic.Int64
	s.AddInterval(5*time.Millisecond, JobFunc{"gated", func(context.Context) error {
		runs.Add(1)
		return nil
	}}, func(time.Time) bool { return false })

	s.Start()
	time.Sleep(40 * time.Millisecond)
	s.Stop()
	assert.Zero(t, runs.Load())
}

// rankedGenerator returns a canned per-ticker daily signal.
type rankedGenerator struct {
	probs map[string]float64
}

func (g *rankedGenerator) Generate(_ context.Context, ticker string) (*domain.MultiTimeframeSignal, error) {
	prob, ok := g.probs[ticker]
	if !ok {
		return nil, domain.ErrNoData
	}
	return &domain.MultiTimeframeSignal{
		Ticker:          ticker,
		ConsensusSignal: domain.KindFromProbability(prob),
		Probability:     prob,
		Confidence:      0.7,
		GeneratedAt:     time.Now(),
	}, nil
}

func newWorkflowFixture(t *testing.T, gen autotrader.SignalGenerator, universe []string) (*Workflow, *executor.PaperLedger, *autotrader.AutoTrader) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultTradingConfig()
	log := zerolog.Nop()
	hours := markethours.NewService()

	paper, err := executor.NewPaperLedger(filepath.Join(dir, "paper.json"), 500_000, log)
	require.NoError(t, err)
	tracker, err := models.NewTracker(filepath.Join(dir, "pending.json"), log)
	require.NoError(t, err)
	plans, err := planner.NewStore(filepath.Join(dir, "plans.json"), log)
	require.NoError(t, err)
	cooldowns, err := autotrader.NewCooldowns(filepath.Join(dir, "cooldown.json"), cfg.CooldownHoursAfterLoss, log)
	require.NoError(t, err)

	exec := executor.NewExecutor(nil, nil, config.ModePaper, paper, tracker, nil, log)

	portfolio := func(context.Context) (risk.Snapshot, error) {
		balance, err := paper.Balance()
		if err != nil {
			return risk.Snapshot{}, err
		}
		positions, err := paper.Positions()
		if err != nil {
			return risk.Snapshot{}, err
		}
		return risk.Snapshot{Balance: balance, Positions: positions}, nil
	}

	trader := autotrader.New(gen, planner.NewPlanner(cfg, log), plans, risk.NewManager(cfg, log),
		exec, autotrader.NewCircuitBreaker(cfg, log), cooldowns, tracker, hours, portfolio, cfg, log)

	wf := NewWorkflow(WorkflowDeps{
		Trader:    trader,
		Generator: gen,
		Executor:  exec,
		Portfolio: portfolio,
		Hours:     hours,
		Universe:  universe,
		TopN:      2,
	}, log)
	return wf, paper, trader
}

func TestPreMarketSelectsTopNFocus(t *testing.T) {
	gen := &rankedGenerator{probs: map[string]float64{
		"RELIANCE.NS": 0.62,
		"TCS.NS":      0.81,
		"INFY.NS":     0.50,
		"HDFCBANK.NS": 0.71,
	}}
	wf, _, trader := newWorkflowFixture(t, gen,
		[]string{"RELIANCE.NS", "TCS.NS", "INFY.NS", "HDFCBANK.NS", "SBIN.NS"})

	require.NoError(t, wf.PreMarket(context.Background()))

	// HOLD and failed tickers drop out; the top two by probability stay.
	assert.Equal(t, []string{"TCS.NS", "HDFCBANK.NS"}, trader.Watchlist())
	state := wf.State()
	assert.True(t, state.PreMarketCompleted)
	assert.False(t, state.PostMarketCompleted)
}

func TestTickMonitorsExitsBeforeScanning(t *testing.T) {
	gen := &rankedGenerator{probs: map[string]float64{}}
	wf, paper, _ := newWorkflowFixture(t, gen, nil)

	plan := &domain.TradePlan{
		ID: "plan-1", Symbol: "RELIANCE.NS", Side: domain.SideBuy, Quantity: 100,
		Entry: 2850, StopLoss: 2900, Product: domain.ProductDelivery,
	}
	_, err := paper.Buy(plan, 2850)
	require.NoError(t, err)

	// Current price sits below the stop, so the tick must exit the position.
	require.NoError(t, wf.Tick(context.Background()))

	positions, err := paper.Positions()
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.True(t, wf.State().MarketHoursActive)
}

func TestTickExitsOnBearishSignalRefresh(t *testing.T) {
	gen := &rankedGenerator{probs: map[string]float64{"RELIANCE.NS": 0.30}}
	wf, paper, _ := newWorkflowFixture(t, gen, nil)

	plan := &domain.TradePlan{
		ID: "plan-1", Symbol: "RELIANCE.NS", Side: domain.SideBuy, Quantity: 100,
		Entry: 2850, StopLoss: 2700, Target1: 3100, Target2: 3300,
		Product: domain.ProductDelivery,
	}
	_, err := paper.Buy(plan, 2850)
	require.NoError(t, err)

	// No level is touched; the refreshed consensus turning bearish is what
	// forces the exit.
	require.NoError(t, wf.Tick(context.Background()))

	positions, err := paper.Positions()
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPostMarketClosesIntradayOnly(t *testing.T) {
	gen := &rankedGenerator{probs: map[string]float64{}}
	wf, paper, _ := newWorkflowFixture(t, gen, nil)

	intraday := &domain.TradePlan{
		ID: "plan-1", Symbol: "RELIANCE.NS", Side: domain.SideBuy, Quantity: 10,
		Entry: 2850, Product: domain.ProductIntraday,
	}
	delivery := &domain.TradePlan{
		ID: "plan-2", Symbol: "TCS.NS", Side: domain.SideBuy, Quantity: 10,
		Entry: 3000, Product: domain.ProductDelivery,
	}
	_, err := paper.Buy(intraday, 2850)
	require.NoError(t, err)
	_, err = paper.Buy(delivery, 3000)
	require.NoError(t, err)

	purged := false
	wf.purge = func() error { purged = true; return nil }

	require.NoError(t, wf.PostMarket(context.Background()))

	positions, err := paper.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "TCS.NS", positions[0].Symbol)
	assert.True(t, purged)
	assert.True(t, wf.State().PostMarketCompleted)
}
