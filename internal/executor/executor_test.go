package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/instruments"
	"github.com/niveshlabs/nivesh/internal/models"
)

// fakeBroker fails PlaceOrder a configurable number of times.
type fakeBroker struct {
	placeCalls int
	failFor    int
	failWith   error
	modified   []string
}

func (b *fakeBroker) Authenticate(context.Context, string) error { return nil }
func (b *fakeBroker) RefreshSession(context.Context) error       { return nil }
func (b *fakeBroker) IsConnected() bool                          { return true }

func (b *fakeBroker) GetProfile(context.Context) (*domain.BrokerProfile, error) { return nil, nil }
func (b *fakeBroker) GetHoldings(context.Context) ([]domain.BrokerHolding, error) {
	return nil, nil
}
func (b *fakeBroker) GetPositions(context.Context) ([]domain.BrokerPosition, error) {
	return nil, nil
}
func (b *fakeBroker) GetOrders(context.Context) ([]domain.BrokerOrder, error) { return nil, nil }

func (b *fakeBroker) PlaceOrder(context.Context, domain.BrokerOrderParams) (string, error) {
	b.placeCalls++
	if b.placeCalls <= b.failFor {
		return "", b.failWith
	}
	return "LIVE-1", nil
}

func (b *fakeBroker) ModifyOrder(_ context.Context, orderID string, _ domain.BrokerOrderParams) error {
	b.modified = append(b.modified, orderID)
	return nil
}
func (b *fakeBroker) CancelOrder(context.Context, string) error { return nil }

func (b *fakeBroker) GetQuotes(context.Context, []domain.InstrumentKey) (map[domain.InstrumentKey]domain.BrokerQuote, error) {
	return nil, nil
}
func (b *fakeBroker) GetHistoricalCandles(context.Context, domain.InstrumentKey, domain.Interval, time.Time, time.Time) ([]domain.BrokerCandle, error) {
	return nil, nil
}

func newTestExecutor(t *testing.T, mode config.TradingMode, broker *fakeBroker) (*Executor, *PaperLedger, *models.Tracker) {
	t.Helper()
	dir := t.TempDir()

	paper, err := NewPaperLedger(filepath.Join(dir, "paper_trading.json"), 500_000, zerolog.Nop())
	require.NoError(t, err)
	tracker, err := models.NewTracker(filepath.Join(dir, "pending.json"), zerolog.Nop())
	require.NoError(t, err)

	master := instruments.NewMaster(filepath.Join(dir, "instruments"), nil, zerolog.Nop())
	exec := NewExecutor(broker, master, mode, paper, tracker, nil, zerolog.Nop())
	exec.retryDelay = time.Millisecond
	return exec, paper, tracker
}

func testPlan(symbol string, qty int64, entry float64) *domain.TradePlan {
	return &domain.TradePlan{
		ID:        "plan-1",
		Symbol:    symbol,
		Side:      domain.SideBuy,
		Quantity:  qty,
		Entry:     entry,
		StopLoss:  entry * 0.96,
		Target1:   entry * 1.05,
		Target2:   entry * 1.10,
		OrderType: domain.OrderLimit,
		Product:   domain.ProductDelivery,
		Validity:  domain.ValidityDay,
	}
}

func testSignal(ticker string, prob float64) *domain.MultiTimeframeSignal {
	return &domain.MultiTimeframeSignal{
		Ticker:          ticker,
		ConsensusSignal: domain.KindFromProbability(prob),
		Probability:     prob,
		Confidence:      0.7,
		GeneratedAt:     time.Now(),
	}
}

func TestPaperBuyOpensPositionAndQueuesPrediction(t *testing.T) {
	exec, paper, tracker := newTestExecutor(t, config.ModePaper, nil)

	res := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 100, 2850), testSignal("RELIANCE.NS", 0.7))
	require.True(t, res.Success)
	assert.True(t, res.PaperTrade)
	assert.Contains(t, res.OrderID, "PAPER-")

	balance, err := paper.Balance()
	require.NoError(t, err)
	assert.InDelta(t, 500_000-285_000, balance, 1e-9)

	positions, err := paper.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Quantity)
	assert.InDelta(t, 2850*0.96, positions[0].StopLoss, 1e-9)

	pending, err := tracker.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestPaperBuyRejectsOverdraft(t *testing.T) {
	exec, _, _ := newTestExecutor(t, config.ModePaper, nil)

	res := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 1000, 2850), nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "insufficient paper balance")
}

func TestPaperSellResolvesPredictionAndFiresCallback(t *testing.T) {
	exec, paper, tracker := newTestExecutor(t, config.ModePaper, nil)

	var gotPnL float64
	var gotTicker string
	exec.OnPnL(func(pnl float64, ticker string) { gotPnL, gotTicker = pnl, ticker })

	require.True(t, exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 100, 2850), testSignal("RELIANCE.NS", 0.7)).Success)

	pos := domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 2950}
	res := exec.ExecuteSell(context.Background(), pos, 0, domain.ExitTarget1)
	require.True(t, res.Success)
	assert.Equal(t, int64(100), res.Quantity)

	assert.InDelta(t, 10_000, gotPnL, 1e-9)
	assert.Equal(t, "RELIANCE.NS", gotTicker)

	pending, err := tracker.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	balance, err := paper.Balance()
	require.NoError(t, err)
	assert.InDelta(t, 510_000, balance, 1e-9)
}

func TestLiveBuyRetriesTransientErrors(t *testing.T) {
	broker := &fakeBroker{failFor: 2, failWith: domain.ErrTransient}
	exec, _, _ := newTestExecutor(t, config.ModeLive, broker)

	res := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 10, 2850), nil)
	require.True(t, res.Success)
	assert.Equal(t, "LIVE-1", res.OrderID)
	assert.False(t, res.PaperTrade)
	assert.Equal(t, 3, broker.placeCalls)
}

func TestLiveBuyDoesNotRetryAuthFailure(t *testing.T) {
	broker := &fakeBroker{failFor: 10, failWith: domain.ErrAuthFailure}
	exec, _, _ := newTestExecutor(t, config.ModeLive, broker)

	res := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 10, 2850), nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, broker.placeCalls)
}

func TestLiveBuyGivesUpAfterMaxAttempts(t *testing.T) {
	broker := &fakeBroker{failFor: 10, failWith: errors.New("gateway timeout")}
	exec, _, _ := newTestExecutor(t, config.ModeLive, broker)

	res := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 10, 2850), nil)
	assert.False(t, res.Success)
	assert.Equal(t, 3, broker.placeCalls)
}

func TestUpdateStopLoss(t *testing.T) {
	exec, paper, _ := newTestExecutor(t, config.ModePaper, nil)

	buy := exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 10, 2850), nil)
	require.True(t, buy.Success)

	mod := exec.UpdateStopLoss(context.Background(), buy.OrderID, 2800)
	require.True(t, mod.Success)

	positions, err := paper.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 2800, positions[0].StopLoss, 1e-9)

	mod = exec.UpdateStopLoss(context.Background(), "PAPER-UNKNOWN", 2800)
	assert.False(t, mod.Success)
}

func TestCheckAndExitPositions(t *testing.T) {
	tests := []struct {
		name     string
		pos      domain.Position
		signals  map[string]domain.SignalKind
		reason   domain.ExitReason
		quantity int64
		partial  bool
	}{
		{
			name:     "stop loss full exit",
			pos:      domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 2730, StopLoss: 2736},
			reason:   domain.ExitStopLoss,
			quantity: 100,
		},
		{
			name:     "target two full exit",
			pos:      domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 3140, StopLoss: 2736, Target1: 2992, Target2: 3135},
			reason:   domain.ExitTarget2,
			quantity: 100,
		},
		{
			name:     "target one half scale out",
			pos:      domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 3000, StopLoss: 2736, Target1: 2992, Target2: 3135},
			reason:   domain.ExitTarget1,
			quantity: 50,
			partial:  true,
		},
		{
			name:     "bearish signal exit",
			pos:      domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 2900},
			signals:  map[string]domain.SignalKind{"RELIANCE.NS": domain.SignalStrongSell},
			reason:   domain.ExitSignal,
			quantity: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, _, _ := newTestExecutor(t, config.ModePaper, nil)
			seed := testPlan("RELIANCE.NS", 100, 2850)
			require.True(t, exec.ExecuteBuy(context.Background(), seed, nil).Success)

			exits := exec.CheckAndExitPositions(context.Background(), []domain.Position{tt.pos}, tt.signals)
			require.Len(t, exits, 1)
			assert.Equal(t, tt.reason, exits[0].Reason)
			assert.Equal(t, tt.quantity, exits[0].Quantity)
			assert.Equal(t, tt.partial, exits[0].Partial)
			assert.True(t, exits[0].Result.Success)
		})
	}
}

func TestTargetOneFiresOnlyOnce(t *testing.T) {
	exec, paper, _ := newTestExecutor(t, config.ModePaper, nil)
	require.True(t, exec.ExecuteBuy(context.Background(), testPlan("RELIANCE.NS", 100, 2850), nil).Success)

	pos := domain.Position{Symbol: "RELIANCE.NS", Quantity: 100, AveragePrice: 2850, CurrentPrice: 3000, Target1: 2992, Target2: 3135}
	exits := exec.CheckAndExitPositions(context.Background(), []domain.Position{pos}, nil)
	require.Len(t, exits, 1)

	positions, err := paper.Positions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Target1Hit)
	assert.Equal(t, int64(50), positions[0].Quantity)

	// Re-reading the ledger position, the scale-out must not repeat.
	exits = exec.CheckAndExitPositions(context.Background(), positions, nil)
	assert.Empty(t, exits)
}

func TestCloseIntradayPreservesDelivery(t *testing.T) {
	exec, _, _ := newTestExecutor(t, config.ModePaper, nil)

	intradayPlan := testPlan("RELIANCE.NS", 10, 2850)
	intradayPlan.Product = domain.ProductIntraday
	require.True(t, exec.ExecuteBuy(context.Background(), intradayPlan, nil).Success)
	require.True(t, exec.ExecuteBuy(context.Background(), testPlan("TCS.NS", 10, 3000), nil).Success)

	positions := []domain.Position{
		{Symbol: "RELIANCE.NS", Quantity: 10, AveragePrice: 2850, CurrentPrice: 2860, Product: domain.ProductIntraday},
		{Symbol: "TCS.NS", Quantity: 10, AveragePrice: 3000, CurrentPrice: 3010, Product: domain.ProductDelivery},
	}
	exits := exec.CloseIntraday(context.Background(), positions)
	require.Len(t, exits, 1)
	assert.Equal(t, "RELIANCE.NS", exits[0].Symbol)
	assert.Equal(t, domain.ExitEndOfDay, exits[0].Reason)
}
