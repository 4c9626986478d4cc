// Package mtf aggregates per-timeframe signals into one consensus call.
package mtf

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// Timeframe weights. During market hours the fast frames dominate; after
// the close the daily frame carries the decision.
var (
	intradayWeights = map[domain.Interval]float64{
		domain.Interval5m:  0.35,
		domain.Interval15m: 0.30,
		domain.Interval1h:  0.25,
		domain.Interval1d:  0.10,
	}
	eodWeights = map[domain.Interval]float64{
		domain.Interval5m:  0.10,
		domain.Interval15m: 0.15,
		domain.Interval1h:  0.25,
		domain.Interval1d:  0.50,
	}
)

// Directional agreement is counted over timeframes, not weight. At 75%
// the direction wins outright regardless of the blended probability; at
// 50% it lifts a HOLD-band blend to that direction.
const (
	agreementOverride = 0.75
	agreementPromote  = 0.50
)

// levelPriority orders timeframes for level propagation: the consensus
// takes levels from the fastest frame that agrees with the call.
var levelPriority = []domain.Interval{
	domain.Interval5m, domain.Interval15m, domain.Interval1h, domain.Interval1d,
}

// Aggregator blends signals across timeframes.
type Aggregator struct {
	log zerolog.Logger
	now func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		log: log.With().Str("component", "mtf").Logger(),
		now: time.Now,
	}
}

// Aggregate combines the per-timeframe signals. marketOpen selects the
// weight profile. Missing timeframes renormalize the remaining weights;
// at least one signal is required.
func (a *Aggregator) Aggregate(ticker string, signals map[domain.Interval]domain.Signal, marketOpen bool) (*domain.MultiTimeframeSignal, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: no timeframe signals for %s", domain.ErrNoData, ticker)
	}

	profile := eodWeights
	if marketOpen {
		profile = intradayWeights
	}

	weights := make(map[domain.Interval]float64, len(signals))
	var totalW float64
	for tf := range signals {
		w, ok := profile[tf]
		if !ok {
			// Unprofiled frames participate at the daily weight.
			w = profile[domain.Interval1d]
		}
		weights[tf] = w
		totalW += w
	}
	for tf := range weights {
		weights[tf] /= totalW
	}

	var prob, conf float64
	var bullN, bearN int
	for tf, sig := range signals {
		w := weights[tf]
		prob += w * sig.Probability
		conf += w * sig.Confidence
		switch {
		case sig.Kind.Bullish():
			bullN++
		case sig.Kind.Bearish():
			bearN++
		}
	}
	frames := float64(len(signals))
	bullFrac := float64(bullN) / frames
	bearFrac := float64(bearN) / frames

	consensus := domain.KindFromProbability(prob)
	switch {
	case bullFrac >= agreementOverride && !consensus.Bullish():
		consensus = agreedDirection(signals, domain.SignalBuy, domain.SignalStrongBuy)
	case bearFrac >= agreementOverride && !consensus.Bearish():
		consensus = agreedDirection(signals, domain.SignalSell, domain.SignalStrongSell)
	case consensus == domain.SignalHold && bullFrac >= agreementPromote && bullFrac > bearFrac:
		consensus = agreedDirection(signals, domain.SignalBuy, domain.SignalStrongBuy)
	case consensus == domain.SignalHold && bearFrac >= agreementPromote && bearFrac > bullFrac:
		consensus = agreedDirection(signals, domain.SignalSell, domain.SignalStrongSell)
	}

	out := &domain.MultiTimeframeSignal{
		Ticker:          ticker,
		ConsensusSignal: consensus,
		Probability:     prob,
		Confidence:      conf,
		Levels:          a.propagateLevels(consensus, signals),
		Breakdown:       signals,
		Weights:         weights,
		GeneratedAt:     a.now(),
	}
	a.log.Debug().Str("ticker", ticker).Str("consensus", string(consensus)).
		Float64("probability", prob).Float64("confidence", conf).
		Bool("market_open", marketOpen).Msg("Aggregated timeframes")
	return out, nil
}

// agreedDirection returns the promoted signal for the agreeing frames:
// the strong variant only when every agreeing frame is itself strong.
func agreedDirection(signals map[domain.Interval]domain.Signal, plain, strong domain.SignalKind) domain.SignalKind {
	out := strong
	seen := false
	for _, sig := range signals {
		if sig.Kind != plain && sig.Kind != strong {
			continue
		}
		seen = true
		if sig.Kind == plain {
			out = plain
		}
	}
	if !seen {
		return plain
	}
	return out
}

// propagateLevels picks the levels from the fastest timeframe whose signal
// agrees with the consensus direction; a HOLD consensus takes the fastest
// frame with any levels at all.
func (a *Aggregator) propagateLevels(consensus domain.SignalKind, signals map[domain.Interval]domain.Signal) domain.Levels {
	var fallback domain.Levels
	haveFallback := false
	for _, tf := range levelPriority {
		sig, ok := signals[tf]
		if !ok || sig.Levels.Entry == 0 {
			continue
		}
		if !haveFallback {
			fallback = sig.Levels
			haveFallback = true
		}
		agrees := (consensus.Bullish() && sig.Kind.Bullish()) ||
			(consensus.Bearish() && sig.Kind.Bearish())
		if agrees {
			return sig.Levels
		}
	}
	return fallback
}
