package strategy

import (
	"fmt"
	"strconv"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/pkg/formulas"
)

// Confidence floors and volume ratios the gates check against.
const (
	directionalConfidenceGate = 0.70
	holdConfidenceGate        = 0.60

	volumeParticipation = 1.2
	unusualVolumeRatio  = 2.0
)

// Filter applies the quality gates every strategy output must pass before
// it reaches the planner. A rejected signal is returned as a HOLD with the
// rejection reason in metadata, never dropped silently.
type Filter struct {
	log zerolog.Logger
}

// NewFilter builds the gate set.
func NewFilter(log zerolog.Logger) *Filter {
	return &Filter{
		log: log.With().Str("component", "signalfilter").Logger(),
	}
}

// Apply gates the signal against the series it was derived from.
// agreeingModels / totalModels carry the ensemble's internal direction
// vote; pass 0/0 for non-ensemble signals to skip that gate.
func (f *Filter) Apply(sig domain.Signal, series *domain.OHLCVSeries, agreeingModels, totalModels int) domain.Signal {
	if reason := f.reject(sig, series, agreeingModels, totalModels); reason != "" {
		f.log.Debug().Str("ticker", sig.Ticker).Str("signal", string(sig.Kind)).
			Str("reason", reason).Msg("Signal filtered to HOLD")
		held := sig.WithMeta("filtered", reason)
		held.Kind = domain.SignalHold
		return held
	}
	return f.scaleConfidence(sig, series)
}

func (f *Filter) reject(sig domain.Signal, series *domain.OHLCVSeries, agreeing, total int) string {
	if !sig.Kind.Directional() {
		if sig.Confidence < holdConfidenceGate {
			return fmt.Sprintf("confidence %.2f below %.2f hold gate", sig.Confidence, holdConfidenceGate)
		}
		// A hold is only credible while the models lack a directional
		// consensus of their own.
		if total >= 3 && agreeing >= 2 {
			return fmt.Sprintf("%d of %d models agree on a direction", agreeing, total)
		}
		return ""
	}

	if sig.Confidence < directionalConfidenceGate {
		return fmt.Sprintf("confidence %.2f below %.2f gate", sig.Confidence, directionalConfidenceGate)
	}
	if total >= 3 && agreeing < 2 {
		return fmt.Sprintf("only %d of %d models agree", agreeing, total)
	}

	if series != nil && series.Len() >= 30 {
		if !f.trendConfirms(sig.Kind, series) {
			return "no trend confirmation"
		}
		if !f.volumeConfirms(series) {
			return "volume below participation gate"
		}
	}
	return ""
}

// trendConfirms accepts a bullish signal when price holds near or above
// its SMA20, or when MACD is above its signal line. Bearish signals take
// the mirror: price near or below SMA20, or MACD below its signal line.
func (f *Filter) trendConfirms(kind domain.SignalKind, series *domain.OHLCVSeries) bool {
	closes := series.Closes()
	last := closes[len(closes)-1]

	sma20 := talib.Sma(closes, 20)
	s := sma20[len(sma20)-1]
	if s > 0 {
		if kind.Bullish() && last >= 0.98*s {
			return true
		}
		if kind.Bearish() && last <= 1.02*s {
			return true
		}
	}
	if series.Len() >= 40 {
		macd, macdSignal, _ := talib.Macd(closes, 12, 26, 9)
		above := macd[len(macd)-1] > macdSignal[len(macdSignal)-1]
		if kind.Bullish() == above {
			return true
		}
	}
	return false
}

// volumeConfirms requires the latest volume to run at least 1.2x its
// 20-bar average, or an outright unusual-volume print at 2x. Zero-volume
// series (indices) pass.
func (f *Filter) volumeConfirms(series *domain.OHLCVSeries) bool {
	volumes := series.Volumes()
	avg := formulas.Mean(volumes[len(volumes)-20:])
	if avg == 0 {
		return true
	}
	last := volumes[len(volumes)-1]
	return last >= volumeParticipation*avg || last >= unusualVolumeRatio*avg
}

// scaleConfidence nudges confidence by market context once the gates have
// passed: calm tape and a strong trend help, churn hurts. The result stays
// in [0, 1].
func (f *Filter) scaleConfidence(sig domain.Signal, series *domain.OHLCVSeries) domain.Signal {
	if series == nil || series.Len() < 30 {
		return sig
	}

	highs, lows, closes := series.Highs(), series.Lows(), series.Closes()
	last := closes[len(closes)-1]
	scale := 1.0

	atr := talib.Atr(highs, lows, closes, 14)
	if a := atr[len(atr)-1]; a > 0 && last > 0 {
		switch vol := a / last; {
		case vol > 0.05:
			scale *= 0.90
		case vol < 0.015:
			scale *= 1.05
		}
	}

	adx := talib.Adx(highs, lows, closes, 14)
	switch a := adx[len(adx)-1]; {
	case a > 40:
		scale *= 1.10
	case a < 20:
		scale *= 0.95
	}

	volumes := series.Volumes()
	if avg := formulas.Mean(volumes[len(volumes)-20:]); avg > 0 {
		if volumes[len(volumes)-1] >= unusualVolumeRatio*avg {
			scale *= 1.05
		}
	}

	sig.Confidence = formulas.Clamp(sig.Confidence*scale, 0, 1)
	return sig.WithMeta("confidence_scale", strconv.FormatFloat(scale, 'f', 3, 64))
}
