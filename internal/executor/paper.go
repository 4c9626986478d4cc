package executor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/storage"
)

// PaperTrade is one simulated fill.
type PaperTrade struct {
	OrderID  string      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Side     domain.Side `json:"side"`
	Quantity int64       `json:"quantity"`
	Price    float64     `json:"price"`
	PnL      float64     `json:"pnl,omitempty"`
	At       time.Time   `json:"at"`
}

type paperState struct {
	Balance   float64                    `json:"balance"`
	Positions map[string]domain.Position `json:"positions"`
	Trades    []PaperTrade               `json:"trades"`
}

// PaperLedger simulates fills against a running cash balance so the
// whole pipeline can run without a broker session.
type PaperLedger struct {
	store *storage.JSONStore
	mu    sync.Mutex
	log   zerolog.Logger
	now   func() time.Time
}

// NewPaperLedger opens the ledger file. The starting balance applies only
// when the file does not exist yet.
func NewPaperLedger(path string, startingBalance float64, log zerolog.Logger) (*PaperLedger, error) {
	store, err := storage.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	l := &PaperLedger{
		store: store,
		log:   log.With().Str("component", "paperledger").Logger(),
		now:   time.Now,
	}

	var st paperState
	err = store.Update(&st, func(loaded bool) (interface{}, error) {
		if !loaded {
			st.Balance = startingBalance
		}
		if st.Positions == nil {
			st.Positions = make(map[string]domain.Position)
		}
		return &st, nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Balance returns the current cash balance.
func (l *PaperLedger) Balance() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st paperState
	if _, err := l.store.Load(&st); err != nil {
		return 0, err
	}
	return st.Balance, nil
}

// Positions returns the open simulated positions.
func (l *PaperLedger) Positions() ([]domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st paperState
	if _, err := l.store.Load(&st); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(st.Positions))
	for _, pos := range st.Positions {
		positions = append(positions, pos)
	}
	return positions, nil
}

// Buy debits the balance and opens or extends a position. Stop and targets
// come from the plan so exit monitoring can act on them later.
func (l *PaperLedger) Buy(plan *domain.TradePlan, price float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orderID := paperOrderID()
	var st paperState
	err := l.store.Update(&st, func(bool) (interface{}, error) {
		cost := float64(plan.Quantity) * price
		if cost > st.Balance {
			return nil, fmt.Errorf("insufficient paper balance: need %.2f, have %.2f", cost, st.Balance)
		}
		st.Balance -= cost

		if st.Positions == nil {
			st.Positions = make(map[string]domain.Position)
		}
		pos, held := st.Positions[plan.Symbol]
		if held {
			total := pos.Quantity + plan.Quantity
			pos.AveragePrice = (float64(pos.Quantity)*pos.AveragePrice + cost) / float64(total)
			pos.Quantity = total
		} else {
			pos = domain.Position{
				Symbol:       plan.Symbol,
				Quantity:     plan.Quantity,
				AveragePrice: price,
				Product:      plan.Product,
				EntryTime:    l.now(),
			}
		}
		pos.CurrentPrice = price
		pos.StopLoss = plan.StopLoss
		pos.Target1 = plan.Target1
		pos.Target2 = plan.Target2
		st.Positions[plan.Symbol] = pos

		st.Trades = append(st.Trades, PaperTrade{
			OrderID: orderID, Symbol: plan.Symbol, Side: domain.SideBuy,
			Quantity: plan.Quantity, Price: price, At: l.now(),
		})
		return &st, nil
	})
	if err != nil {
		return "", err
	}

	l.log.Info().Str("symbol", plan.Symbol).Int64("quantity", plan.Quantity).
		Float64("price", price).Str("order_id", orderID).Msg("Paper buy filled")
	return orderID, nil
}

// Sell credits the proceeds and reduces or closes the position. Returns the
// realized P&L on the sold quantity.
func (l *PaperLedger) Sell(symbol string, quantity int64, price float64) (float64, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orderID := paperOrderID()
	var pnl float64
	var st paperState
	err := l.store.Update(&st, func(bool) (interface{}, error) {
		pos, held := st.Positions[symbol]
		if !held || pos.Quantity <= 0 {
			return nil, fmt.Errorf("no paper position in %s", symbol)
		}
		if quantity <= 0 || quantity > pos.Quantity {
			quantity = pos.Quantity
		}

		pnl = float64(quantity) * (price - pos.AveragePrice)
		st.Balance += float64(quantity) * price

		pos.Quantity -= quantity
		pos.CurrentPrice = price
		if pos.Quantity == 0 {
			delete(st.Positions, symbol)
		} else {
			st.Positions[symbol] = pos
		}

		st.Trades = append(st.Trades, PaperTrade{
			OrderID: orderID, Symbol: symbol, Side: domain.SideSell,
			Quantity: quantity, Price: price, PnL: pnl, At: l.now(),
		})
		return &st, nil
	})
	if err != nil {
		return 0, "", err
	}

	l.log.Info().Str("symbol", symbol).Int64("quantity", quantity).
		Float64("price", price).Float64("pnl", pnl).Msg("Paper sell filled")
	return pnl, orderID, nil
}

// UpdateStop rewrites the stop on the position behind a prior order.
func (l *PaperLedger) UpdateStop(orderID string, newStop float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st paperState
	return l.store.Update(&st, func(bool) (interface{}, error) {
		symbol := ""
		for _, tr := range st.Trades {
			if tr.OrderID == orderID {
				symbol = tr.Symbol
				break
			}
		}
		if symbol == "" {
			return nil, fmt.Errorf("no paper order %s", orderID)
		}
		pos, held := st.Positions[symbol]
		if !held {
			return nil, fmt.Errorf("no open paper position behind order %s", orderID)
		}
		pos.StopLoss = newStop
		st.Positions[symbol] = pos
		return &st, nil
	})
}

// MarkTarget1Hit flags the position so the scale-out fires only once.
func (l *PaperLedger) MarkTarget1Hit(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var st paperState
	return l.store.Update(&st, func(bool) (interface{}, error) {
		pos, held := st.Positions[symbol]
		if !held {
			return &st, nil
		}
		pos.Target1Hit = true
		st.Positions[symbol] = pos
		return &st, nil
	})
}

func paperOrderID() string {
	return "PAPER-" + strings.ToUpper(uuid.NewString()[:8])
}
