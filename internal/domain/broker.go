package domain

import (
	"context"
	"time"
)

// InstrumentKey is the broker-native identifier for a tradable instrument
// (e.g. "NSE_EQ|INE002A01018"), distinct from the user-facing ticker.
type InstrumentKey string

// BrokerOrderParams carries everything needed to place an order.
type BrokerOrderParams struct {
	InstrumentKey InstrumentKey
	Side          Side
	Quantity      int64
	OrderType     OrderType
	Price         float64 // limit price, 0 for market
	TriggerPrice  float64 // for SL orders
	Product       Product
	Validity      Validity
	Tag           string
}

// BrokerCandle is a raw upstream candle row [t, o, h, l, c, v].
type BrokerCandle struct {
	T      time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BrokerPosition is a position as reported by the broker.
type BrokerPosition struct {
	InstrumentKey InstrumentKey
	Symbol        string
	Quantity      int64
	AveragePrice  float64
	LastPrice     float64
	Product       Product
	PnL           float64
}

// BrokerHolding is a delivery holding as reported by the broker.
type BrokerHolding struct {
	InstrumentKey InstrumentKey
	Symbol        string
	ISIN          string
	Quantity      int64
	AveragePrice  float64
	LastPrice     float64
}

// BrokerOrder is an order as reported by the broker.
type BrokerOrder struct {
	OrderID       string
	InstrumentKey InstrumentKey
	Side          Side
	Quantity      int64
	FilledQty     int64
	Price         float64
	Status        string
	PlacedAt      time.Time
}

// BrokerQuote is a quote snapshot as reported by the broker.
type BrokerQuote struct {
	InstrumentKey InstrumentKey
	LastPrice     float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PrevClose     float64
	Volume        float64
	Timestamp     time.Time
}

// FeedTick is one message from the broker streaming feed.
type FeedTick struct {
	InstrumentKey InstrumentKey
	LTP           float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	Timestamp     time.Time
}

// BrokerProfile identifies the authenticated broker account.
type BrokerProfile struct {
	UserID   string
	UserName string
	Email    string
	Broker   string
}

// BrokerClient is the opaque broker capability the core depends on.
// The OAuth2 handshake and session lifecycle are implementation details of
// the concrete client; the core only observes IsConnected.
type BrokerClient interface {
	// Session
	Authenticate(ctx context.Context, authCode string) error
	RefreshSession(ctx context.Context) error
	IsConnected() bool

	// Account
	GetProfile(ctx context.Context) (*BrokerProfile, error)
	GetHoldings(ctx context.Context) ([]BrokerHolding, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetOrders(ctx context.Context) ([]BrokerOrder, error)

	// Trading
	PlaceOrder(ctx context.Context, params BrokerOrderParams) (string, error)
	ModifyOrder(ctx context.Context, orderID string, params BrokerOrderParams) error
	CancelOrder(ctx context.Context, orderID string) error

	// Market data
	GetQuotes(ctx context.Context, keys []InstrumentKey) (map[InstrumentKey]BrokerQuote, error)
	GetHistoricalCandles(ctx context.Context, key InstrumentKey, interval Interval, from, to time.Time) ([]BrokerCandle, error)
}

// FeedClient is the optional streaming feed capability.
type FeedClient interface {
	Subscribe(ctx context.Context, keys []InstrumentKey) (<-chan FeedTick, error)
	Close() error
}
