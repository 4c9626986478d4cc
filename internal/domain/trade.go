package domain

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects how the order is priced.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderSL     OrderType = "SL"
)

// Product distinguishes same-day positions from delivery holdings.
type Product string

const (
	ProductIntraday Product = "I"
	ProductDelivery Product = "D"
)

// Validity is the order time-in-force.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// TradingType shapes stop and target widths on a plan.
type TradingType string

const (
	TradingIntraday TradingType = "INTRADAY"
	TradingSwing    TradingType = "SWING"
	TradingPosition TradingType = "POSITION"
)

// PlanStatus is the lifecycle state of a trade plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "DRAFT"
	PlanApproved  PlanStatus = "APPROVED"
	PlanExecuted  PlanStatus = "EXECUTED"
	PlanCancelled PlanStatus = "CANCELLED"
)

// TradePlan is a snapshot of an actionable trade intention. Immutable once
// created except for Status and OrderID.
type TradePlan struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	TradingType     TradingType `json:"trading_type"`
	Quantity        int64       `json:"quantity"`
	Entry           float64     `json:"entry"`
	StopLoss        float64     `json:"stop_loss"`
	Target1         float64     `json:"target_1"`
	Target2         float64     `json:"target_2"`
	RiskAmount      float64     `json:"risk_amount"`
	RiskRewardRatio float64     `json:"risk_reward_ratio"`
	CapitalRequired float64     `json:"capital_required"`
	MaxLoss         float64     `json:"max_loss"`
	OrderType       OrderType   `json:"order_type"`
	Product         Product     `json:"product"`
	Validity        Validity    `json:"validity"`
	Status          PlanStatus  `json:"status"`
	OrderID         string      `json:"order_id,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Position mirrors a broker-side position. The broker is the source of truth;
// this struct is a read-through cache entry.
type Position struct {
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AveragePrice float64   `json:"average_price"`
	CurrentPrice float64   `json:"current_price"`
	Product      Product   `json:"product"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	Target1      float64   `json:"target_1,omitempty"`
	Target2      float64   `json:"target_2,omitempty"`
	Target1Hit   bool      `json:"target_1_hit,omitempty"`
	EntryTime    time.Time `json:"entry_time"`
}

// UnrealizedPnL returns the open profit on the position.
func (p Position) UnrealizedPnL() float64 {
	return float64(p.Quantity) * (p.CurrentPrice - p.AveragePrice)
}

// ExecutionResult is the cross-boundary outcome of an order attempt.
// Failures are values, never panics: the auto-trader loop must not abort on a
// per-ticker failure.
type ExecutionResult struct {
	Success    bool      `json:"success"`
	OrderID    string    `json:"order_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price,omitempty"`
	PaperTrade bool      `json:"paper_trade"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExitReason explains why a position exit was emitted.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTarget1     ExitReason = "target_1"
	ExitTarget2     ExitReason = "target_2"
	ExitSignal      ExitReason = "signal"
	ExitEndOfDay    ExitReason = "end_of_day"
	ExitManual      ExitReason = "manual"
)

// ExitResult records one emitted exit from position monitoring.
type ExitResult struct {
	Symbol   string          `json:"symbol"`
	Reason   ExitReason      `json:"reason"`
	Quantity int64           `json:"quantity"`
	Partial  bool            `json:"partial"`
	Result   ExecutionResult `json:"result"`
}

// ModifyResult is the outcome of an order modification.
type ModifyResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}
