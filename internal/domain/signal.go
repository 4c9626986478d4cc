package domain

import "time"

// SignalKind is the categorical trading recommendation.
type SignalKind string

const (
	SignalStrongBuy  SignalKind = "STRONG_BUY"
	SignalBuy        SignalKind = "BUY"
	SignalHold       SignalKind = "HOLD"
	SignalSell       SignalKind = "SELL"
	SignalStrongSell SignalKind = "STRONG_SELL"
)

// Bullish reports whether the signal points up.
func (k SignalKind) Bullish() bool { return k == SignalBuy || k == SignalStrongBuy }

// Bearish reports whether the signal points down.
func (k SignalKind) Bearish() bool { return k == SignalSell || k == SignalStrongSell }

// Directional reports whether the signal is anything other than HOLD.
func (k SignalKind) Directional() bool { return k.Bullish() || k.Bearish() }

// Probability thresholds mapping a probability-of-up to a categorical signal.
const (
	ThresholdStrongBuy  = 0.65
	ThresholdBuy        = 0.55
	ThresholdSell       = 0.45
	ThresholdStrongSell = 0.35
)

// KindFromProbability maps a probability-of-up into a categorical signal
// using the fixed thresholds.
func KindFromProbability(p float64) SignalKind {
	switch {
	case p >= ThresholdStrongBuy:
		return SignalStrongBuy
	case p >= ThresholdBuy:
		return SignalBuy
	case p <= ThresholdStrongSell:
		return SignalStrongSell
	case p <= ThresholdSell:
		return SignalSell
	default:
		return SignalHold
	}
}

// Levels are the derived actionable prices attached to a signal.
type Levels struct {
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"stop_loss"`
	Target1  float64 `json:"target_1"`
	Target2  float64 `json:"target_2"`
}

// Signal is a directional recommendation for a (ticker, timeframe) at a
// particular computation instant.
type Signal struct {
	Ticker      string            `json:"ticker"`
	Timeframe   Interval          `json:"timeframe"`
	Kind        SignalKind        `json:"signal"`
	Probability float64           `json:"probability"`
	Confidence  float64           `json:"confidence"`
	Levels      Levels            `json:"levels"`
	Strategy    string            `json:"strategy,omitempty"`
	Regime      Regime            `json:"regime,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// WithMeta returns a copy of the signal with an extra metadata entry.
func (s Signal) WithMeta(key, value string) Signal {
	meta := make(map[string]string, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		meta[k] = v
	}
	meta[key] = value
	s.Metadata = meta
	return s
}

// MultiTimeframeSignal aggregates per-timeframe signals for one ticker.
type MultiTimeframeSignal struct {
	Ticker          string               `json:"ticker"`
	ConsensusSignal SignalKind           `json:"consensus_signal"`
	Probability     float64              `json:"probability"`
	Confidence      float64              `json:"confidence"`
	Levels          Levels               `json:"levels"`
	Breakdown       map[Interval]Signal  `json:"breakdown"`
	Weights         map[Interval]float64 `json:"weights"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Regime is the market state classification driving strategy selection.
type Regime string

const (
	RegimeStrongTrend    Regime = "STRONG_TREND"
	RegimeWeakTrend      Regime = "WEAK_TREND"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeRanging        Regime = "RANGING"
)

// MarketPhase is the position of price relative to its moving averages.
type MarketPhase string

const (
	PhaseBull    MarketPhase = "BULL"
	PhaseBear    MarketPhase = "BEAR"
	PhaseNeutral MarketPhase = "NEUTRAL"
)
