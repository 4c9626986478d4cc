// Package executor places orders, simulates them in paper mode, and
// monitors open positions for exits.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/instruments"
	"github.com/niveshlabs/nivesh/internal/journal"
	"github.com/niveshlabs/nivesh/internal/models"
)

const (
	maxOrderAttempts = 3
	orderRetryDelay  = 2 * time.Second
)

// PnLCallback receives realized P&L per completed sell. The control loop
// injects this so the dependency graph stays acyclic.
type PnLCallback func(pnl float64, ticker string)

// Executor routes orders to the broker or the paper ledger and feeds
// realized outcomes back into prediction tracking.
type Executor struct {
	broker  domain.BrokerClient
	master  *instruments.Master
	mode    config.TradingMode
	paper   *PaperLedger
	tracker *models.Tracker
	journal *journal.Journal
	onPnL   PnLCallback
	log     zerolog.Logger
	now     func() time.Time

	retryDelay time.Duration
}

// NewExecutor creates the executor. The journal may be nil, in which case
// executions are not persisted to the history database.
func NewExecutor(
	broker domain.BrokerClient,
	master *instruments.Master,
	mode config.TradingMode,
	paper *PaperLedger,
	tracker *models.Tracker,
	jrnl *journal.Journal,
	log zerolog.Logger,
) *Executor {
	return &Executor{
		broker:     broker,
		master:     master,
		mode:       mode,
		paper:      paper,
		tracker:    tracker,
		journal:    jrnl,
		log:        log.With().Str("component", "executor").Logger(),
		now:        time.Now,
		retryDelay: orderRetryDelay,
	}
}

// OnPnL registers the realized-P&L callback.
func (e *Executor) OnPnL(fn PnLCallback) { e.onPnL = fn }

// ExecuteBuy places the plan's buy order. On success a pending prediction
// is queued against the signal's model so the exit can score it later.
func (e *Executor) ExecuteBuy(ctx context.Context, plan *domain.TradePlan, sig *domain.MultiTimeframeSignal) domain.ExecutionResult {
	if plan == nil || plan.Quantity <= 0 || plan.Side != domain.SideBuy {
		return e.failure("", domain.SideBuy, 0, "plan is not an executable buy")
	}

	var (
		orderID string
		err     error
	)
	if e.mode == config.ModePaper {
		orderID, err = e.paper.Buy(plan, plan.Entry)
	} else {
		orderID, err = e.placeLive(ctx, plan.Symbol, domain.BrokerOrderParams{
			Side:      domain.SideBuy,
			Quantity:  plan.Quantity,
			OrderType: plan.OrderType,
			Price:     limitPrice(plan.OrderType, plan.Entry),
			Product:   plan.Product,
			Validity:  plan.Validity,
			Tag:       plan.ID,
		})
	}
	if err != nil {
		e.log.Error().Err(err).Str("symbol", plan.Symbol).Msg("Buy order failed")
		return e.failure(plan.Symbol, domain.SideBuy, plan.Quantity, err.Error())
	}

	res := domain.ExecutionResult{
		Success:    true,
		OrderID:    orderID,
		Symbol:     plan.Symbol,
		Side:       domain.SideBuy,
		Quantity:   plan.Quantity,
		Price:      plan.Entry,
		PaperTrade: e.mode == config.ModePaper,
		Timestamp:  e.now(),
	}
	e.journalEntry(ctx, res, plan.ID, "", nil)

	if sig != nil {
		pending := domain.PendingPrediction{
			ModelID:     modelIDFor(sig),
			Ticker:      plan.Symbol,
			Probability: sig.Probability,
			EntryPrice:  plan.Entry,
			Timestamp:   e.now(),
		}
		if err := e.tracker.RecordPending(pending); err != nil {
			e.log.Warn().Err(err).Str("ticker", plan.Symbol).Msg("Failed to queue pending prediction")
		}
	}

	e.log.Info().Str("symbol", plan.Symbol).Str("order_id", orderID).
		Int64("quantity", plan.Quantity).Bool("paper", res.PaperTrade).
		Msg("Buy executed")
	return res
}

// ExecuteSell sells quantity shares of the position (all when quantity is
// zero or exceeds the holding). On success the oldest pending prediction
// for the ticker is resolved and the P&L callback fires.
func (e *Executor) ExecuteSell(ctx context.Context, pos domain.Position, quantity int64, reason domain.ExitReason) domain.ExecutionResult {
	if pos.Quantity <= 0 {
		return e.failure(pos.Symbol, domain.SideSell, 0, "no position to sell")
	}
	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	price := pos.CurrentPrice

	var (
		orderID string
		pnl     float64
		err     error
	)
	if e.mode == config.ModePaper {
		pnl, orderID, err = e.paper.Sell(pos.Symbol, quantity, price)
	} else {
		pnl = float64(quantity) * (price - pos.AveragePrice)
		orderID, err = e.placeLive(ctx, pos.Symbol, domain.BrokerOrderParams{
			Side:      domain.SideSell,
			Quantity:  quantity,
			OrderType: domain.OrderMarket,
			Product:   pos.Product,
			Validity:  domain.ValidityDay,
			Tag:       string(reason),
		})
	}
	if err != nil {
		e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Sell order failed")
		return e.failure(pos.Symbol, domain.SideSell, quantity, err.Error())
	}

	res := domain.ExecutionResult{
		Success:    true,
		OrderID:    orderID,
		Symbol:     pos.Symbol,
		Side:       domain.SideSell,
		Quantity:   quantity,
		Price:      price,
		PaperTrade: e.mode == config.ModePaper,
		Reason:     string(reason),
		Timestamp:  e.now(),
	}
	e.journalEntry(ctx, res, "", string(reason), &pnl)

	if _, err := e.tracker.Resolve(pos.Symbol, price); err != nil {
		e.log.Warn().Err(err).Str("ticker", pos.Symbol).Msg("Failed to resolve pending prediction")
	}
	if e.onPnL != nil {
		e.onPnL(pnl, pos.Symbol)
	}

	e.log.Info().Str("symbol", pos.Symbol).Str("reason", string(reason)).
		Int64("quantity", quantity).Float64("pnl", pnl).Msg("Sell executed")
	return res
}

// UpdateStopLoss rewrites the stop behind an existing order.
func (e *Executor) UpdateStopLoss(ctx context.Context, orderID string, newStop float64) domain.ModifyResult {
	if newStop <= 0 {
		return domain.ModifyResult{OrderID: orderID, Reason: "stop must be positive"}
	}

	var err error
	if e.mode == config.ModePaper {
		err = e.paper.UpdateStop(orderID, newStop)
	} else {
		err = e.broker.ModifyOrder(ctx, orderID, domain.BrokerOrderParams{
			OrderType:    domain.OrderSL,
			TriggerPrice: newStop,
		})
	}
	if err != nil {
		e.log.Error().Err(err).Str("order_id", orderID).Msg("Stop-loss update failed")
		return domain.ModifyResult{OrderID: orderID, Reason: err.Error()}
	}
	return domain.ModifyResult{Success: true, OrderID: orderID}
}

// CheckAndExitPositions walks open positions and emits the exits their
// levels demand: stop and target-2 close fully, target-1 scales out half,
// and a bearish signal closes the rest.
func (e *Executor) CheckAndExitPositions(ctx context.Context, positions []domain.Position, signals map[string]domain.SignalKind) []domain.ExitResult {
	var exits []domain.ExitResult
	for _, pos := range positions {
		if pos.Quantity <= 0 || pos.CurrentPrice <= 0 {
			continue
		}
		price := pos.CurrentPrice

		switch {
		case pos.StopLoss > 0 && price <= pos.StopLoss:
			exits = append(exits, e.exitFull(ctx, pos, domain.ExitStopLoss))

		case pos.Target2 > 0 && price >= pos.Target2:
			exits = append(exits, e.exitFull(ctx, pos, domain.ExitTarget2))

		case pos.Target1 > 0 && !pos.Target1Hit && price >= pos.Target1:
			half := pos.Quantity / 2
			if half == 0 {
				half = pos.Quantity
			}
			res := e.ExecuteSell(ctx, pos, half, domain.ExitTarget1)
			if res.Success && e.mode == config.ModePaper && half < pos.Quantity {
				if err := e.paper.MarkTarget1Hit(pos.Symbol); err != nil {
					e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Failed to flag target-1 scale-out")
				}
			}
			exits = append(exits, domain.ExitResult{
				Symbol:   pos.Symbol,
				Reason:   domain.ExitTarget1,
				Quantity: half,
				Partial:  half < pos.Quantity,
				Result:   res,
			})

		default:
			if kind, ok := signals[pos.Symbol]; ok && kind.Bearish() {
				exits = append(exits, e.exitFull(ctx, pos, domain.ExitSignal))
			}
		}
	}
	return exits
}

// CloseIntraday closes every intraday-product position, used by the
// post-market task. Delivery positions are left alone.
func (e *Executor) CloseIntraday(ctx context.Context, positions []domain.Position) []domain.ExitResult {
	var exits []domain.ExitResult
	for _, pos := range positions {
		if pos.Product != domain.ProductIntraday || pos.Quantity <= 0 {
			continue
		}
		exits = append(exits, e.exitFull(ctx, pos, domain.ExitEndOfDay))
	}
	return exits
}

func (e *Executor) exitFull(ctx context.Context, pos domain.Position, reason domain.ExitReason) domain.ExitResult {
	res := e.ExecuteSell(ctx, pos, pos.Quantity, reason)
	return domain.ExitResult{
		Symbol:   pos.Symbol,
		Reason:   reason,
		Quantity: pos.Quantity,
		Result:   res,
	}
}

// placeLive resolves the instrument and places the order with linear
// backoff. Hard failures (auth, invalid instrument) are not retried.
func (e *Executor) placeLive(ctx context.Context, symbol string, params domain.BrokerOrderParams) (string, error) {
	inst, err := e.master.Resolve(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("failed to resolve instrument for %s: %w", symbol, err)
	}
	params.InstrumentKey = inst.InstrumentKey

	var lastErr error
	for attempt := 1; attempt <= maxOrderAttempts; attempt++ {
		orderID, err := e.broker.PlaceOrder(ctx, params)
		if err == nil {
			return orderID, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return "", err
		}
		if attempt < maxOrderAttempts {
			e.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).
				Msg("Order attempt failed, retrying")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return "", fmt.Errorf("order failed after %d attempts: %w", maxOrderAttempts, lastErr)
}

func (e *Executor) journalEntry(ctx context.Context, res domain.ExecutionResult, planID, exitReason string, pnl *float64) {
	if e.journal == nil {
		return
	}
	err := e.journal.Record(ctx, journal.Entry{
		Symbol:      res.Symbol,
		Side:        string(res.Side),
		Quantity:    res.Quantity,
		Price:       res.Price,
		Success:     res.Success,
		PaperTrade:  res.PaperTrade,
		OrderID:     res.OrderID,
		PlanID:      planID,
		ExitReason:  exitReason,
		RealizedPnL: pnl,
		Reason:      res.Reason,
		ExecutedAt:  res.Timestamp,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", res.Symbol).Msg("Failed to journal execution")
	}
}

func (e *Executor) failure(symbol string, side domain.Side, quantity int64, reason string) domain.ExecutionResult {
	return domain.ExecutionResult{
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Reason:    reason,
		Timestamp: e.now(),
	}
}

// modelIDFor picks the model attribution for a pending prediction: the
// first per-frame model id in the breakdown, else the consensus tag.
func modelIDFor(sig *domain.MultiTimeframeSignal) string {
	for _, frame := range sig.Breakdown {
		if id, ok := frame.Metadata["model_id"]; ok && id != "" {
			return id
		}
	}
	return "consensus:" + sig.Ticker
}

func limitPrice(orderType domain.OrderType, entry float64) float64 {
	if orderType == domain.OrderMarket {
		return 0
	}
	return entry
}
