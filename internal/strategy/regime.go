// Package strategy hosts regime detection, the signal strategies, and the
// quality filter that gates their output.
package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/pkg/formulas"
)

const (
	adxStrongTrend = 40.0
	adxWeakTrend   = 25.0
	// A current ATR above this percentile of its own history marks a
	// high-volatility regime.
	volatilityPercentile = 80.0

	regimeLookback = 60
)

// MarketState is the detected regime plus the broader phase.
type MarketState struct {
	Regime domain.Regime      `json:"regime"`
	Phase  domain.MarketPhase `json:"phase"`
	ADX    float64            `json:"adx"`
	ATRPct float64            `json:"atr_percentile"`
}

// DetectRegime classifies the series. Trend strength is read from ADX,
// volatility from where the current ATR sits in its own distribution, and
// phase from price against SMA20/SMA50.
func DetectRegime(series *domain.OHLCVSeries) (MarketState, error) {
	if series == nil || series.Len() < regimeLookback {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return MarketState{}, fmt.Errorf("%w: regime detection needs %d bars, have %d",
			domain.ErrNoData, regimeLookback, n)
	}

	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()

	adxSeries := talib.Adx(highs, lows, closes, 14)
	adx := adxSeries[len(adxSeries)-1]

	atrSeries := talib.Atr(highs, lows, closes, 14)
	// Skip the zero-padded warm-up when ranking the current ATR.
	atrHistory := atrSeries[28:]
	atrPct := formulas.PercentileRank(atrHistory, atrSeries[len(atrSeries)-1])

	state := MarketState{ADX: adx, ATRPct: atrPct, Phase: detectPhase(closes)}
	switch {
	case adx > adxStrongTrend:
		state.Regime = domain.RegimeStrongTrend
	case adx > adxWeakTrend:
		state.Regime = domain.RegimeWeakTrend
	case atrPct > volatilityPercentile:
		state.Regime = domain.RegimeHighVolatility
	default:
		state.Regime = domain.RegimeRanging
	}
	return state, nil
}

// detectPhase compares the close to its SMA20 and SMA50: above both is
// BULL, below both is BEAR, in between is NEUTRAL.
func detectPhase(closes []float64) domain.MarketPhase {
	sma20 := talib.Sma(closes, 20)
	sma50 := talib.Sma(closes, 50)
	last := closes[len(closes)-1]
	s20 := sma20[len(sma20)-1]
	s50 := sma50[len(sma50)-1]

	switch {
	case last > s20 && last > s50:
		return domain.PhaseBull
	case last < s20 && last < s50:
		return domain.PhaseBear
	default:
		return domain.PhaseNeutral
	}
}
