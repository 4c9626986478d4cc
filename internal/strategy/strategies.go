package strategy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/features"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/pkg/formulas"
)

// Strategy produces one signal for a series.
type Strategy interface {
	Name() string
	Evaluate(series *domain.OHLCVSeries) (domain.Signal, error)
}

const strategyLookback = 80

// atrLevels derives entry/stop/targets from the current ATR. Directional
// stops sit 2 ATR away, targets at 1.5 and 3 ATR.
func atrLevels(series *domain.OHLCVSeries, bullish bool) domain.Levels {
	closes := series.Closes()
	entry := closes[len(closes)-1]
	atr := talib.Atr(series.Highs(), series.Lows(), closes, 14)
	a := atr[len(atr)-1]
	if a <= 0 {
		a = entry * 0.02
	}

	if bullish {
		return domain.Levels{
			Entry:    entry,
			StopLoss: entry - 2*a,
			Target1:  entry + 1.5*a,
			Target2:  entry + 3*a,
		}
	}
	return domain.Levels{
		Entry:    entry,
		StopLoss: entry + 2*a,
		Target1:  entry - 1.5*a,
		Target2:  entry - 3*a,
	}
}

func baseSignal(series *domain.OHLCVSeries, name string, prob, conf float64, state MarketState) domain.Signal {
	kind := domain.KindFromProbability(prob)
	return domain.Signal{
		Ticker:      series.Ticker,
		Timeframe:   series.Interval,
		Kind:        kind,
		Probability: prob,
		Confidence:  formulas.Clamp(conf, 0, 1),
		Levels:      atrLevels(series, !kind.Bearish()),
		Strategy:    name,
		Regime:      state.Regime,
		GeneratedAt: time.Now(),
	}
}

func checkLookback(series *domain.OHLCVSeries) error {
	if series == nil || series.Len() < strategyLookback {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return fmt.Errorf("%w: strategy needs %d bars, have %d", domain.ErrNoData, strategyLookback, n)
	}
	return nil
}

// MeanReversion fades stretched prices in ranging markets: oversold RSI
// near the lower band argues up, overbought near the upper band argues
// down.
type MeanReversion struct{}

func (MeanReversion) Name() string { return "mean_reversion" }

func (s MeanReversion) Evaluate(series *domain.OHLCVSeries) (domain.Signal, error) {
	if err := checkLookback(series); err != nil {
		return domain.Signal{}, err
	}
	state, err := DetectRegime(series)
	if err != nil {
		return domain.Signal{}, err
	}

	closes := series.Closes()
	rsi := formulas.CalculateRSI(closes, 14)
	bbPos := formulas.CalculateBollingerPosition(closes, 20, 2)
	if rsi == nil || bbPos == nil {
		return domain.Signal{}, fmt.Errorf("%w: indicators unavailable", domain.ErrNoData)
	}

	// Map stretch into a probability-of-up centered at 0.5.
	prob := 0.5
	prob += (50 - *rsi) / 100 * 0.5   // oversold pushes up
	prob += (0.5 - *bbPos) * 0.3      // below the middle band pushes up
	prob = formulas.Clamp(prob, 0.05, 0.95)

	conf := 0.6
	if state.Regime != domain.RegimeRanging {
		// Fading a trend is how mean reversion loses; keep the signal but
		// mark it weak.
		conf = 0.35
	}
	return baseSignal(series, s.Name(), prob, conf, state), nil
}

// Momentum follows trends: MACD alignment plus directional movement.
type Momentum struct{}

func (Momentum) Name() string { return "momentum" }

func (s Momentum) Evaluate(series *domain.OHLCVSeries) (domain.Signal, error) {
	if err := checkLookback(series); err != nil {
		return domain.Signal{}, err
	}
	state, err := DetectRegime(series)
	if err != nil {
		return domain.Signal{}, err
	}

	highs, lows, closes := series.Highs(), series.Lows(), series.Closes()
	macd, macdSignal, _ := talib.Macd(closes, 12, 26, 9)
	plusDI := talib.PlusDI(highs, lows, closes, 14)
	minusDI := talib.MinusDI(highs, lows, closes, 14)

	last := len(closes) - 1
	prob := 0.5
	if macd[last] > macdSignal[last] {
		prob += 0.12
	} else {
		prob -= 0.12
	}
	if plusDI[last] > minusDI[last] {
		prob += 0.10
	} else {
		prob -= 0.10
	}
	// Trend strength scales conviction away from neutral.
	strength := formulas.Clamp(state.ADX/50, 0, 1)
	prob = 0.5 + (prob-0.5)*(0.5+strength)
	prob = formulas.Clamp(prob, 0.05, 0.95)

	conf := 0.4 + 0.4*strength
	return baseSignal(series, s.Name(), prob, conf, state), nil
}

// ML wraps a trained predictor: features are built from the series and the
// model's probability-of-up becomes the signal.
type ML struct {
	engine    *features.Engine
	predictor models.Predictor
	log       zerolog.Logger
}

// NewML builds the model-backed strategy.
func NewML(engine *features.Engine, predictor models.Predictor, log zerolog.Logger) *ML {
	return &ML{
		engine:    engine,
		predictor: predictor,
		log:       log.With().Str("strategy", "ml").Logger(),
	}
}

func (s *ML) Name() string { return "ml" }

func (s *ML) Evaluate(series *domain.OHLCVSeries) (domain.Signal, error) {
	if err := checkLookback(series); err != nil {
		return domain.Signal{}, err
	}
	state, err := DetectRegime(series)
	if err != nil {
		return domain.Signal{}, err
	}

	frame, err := s.engine.MakeFeatures(series)
	if err != nil {
		return domain.Signal{}, err
	}
	if frame.Len() == 0 {
		return domain.Signal{}, fmt.Errorf("%w: empty feature frame", domain.ErrNoData)
	}

	row := frame.Row(frame.Len()-1, s.predictor.Features())
	prob, err := s.predictor.PredictProba(row)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("prediction failed: %w", err)
	}

	// Distance from 0.5 is the model's conviction.
	conf := formulas.Clamp(2*abs(prob-0.5)+0.3, 0, 1)
	sig := baseSignal(series, s.Name(), prob, conf, state)
	sig = sig.WithMeta("model_id", s.predictor.ID())
	return sig, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// AdaptiveElite routes to the strategy suited to the detected regime:
// momentum in trends, mean reversion in ranges, and the model with reduced
// conviction in high volatility.
type AdaptiveElite struct {
	ml        *ML
	momentum  Momentum
	reversion MeanReversion
	log       zerolog.Logger
}

// NewAdaptiveElite builds the regime router. ml may be nil when no trained
// model exists; trend and range routing still work.
func NewAdaptiveElite(ml *ML, log zerolog.Logger) *AdaptiveElite {
	return &AdaptiveElite{
		ml:  ml,
		log: log.With().Str("strategy", "adaptive_elite").Logger(),
	}
}

func (s *AdaptiveElite) Name() string { return "adaptive_elite" }

func (s *AdaptiveElite) Evaluate(series *domain.OHLCVSeries) (domain.Signal, error) {
	if err := checkLookback(series); err != nil {
		return domain.Signal{}, err
	}
	state, err := DetectRegime(series)
	if err != nil {
		return domain.Signal{}, err
	}

	var sig domain.Signal
	switch state.Regime {
	case domain.RegimeStrongTrend:
		sig, err = s.momentum.Evaluate(series)
	case domain.RegimeWeakTrend:
		sig, err = s.blendWeak(series, state)
	case domain.RegimeHighVolatility:
		sig, err = s.routeVolatile(series)
	default:
		sig, err = s.reversion.Evaluate(series)
	}
	if err != nil {
		return domain.Signal{}, err
	}

	sig.Strategy = s.Name()
	sig = sig.WithMeta("routed_regime", string(state.Regime))
	return sig, nil
}

// blendWeak handles a trend that is real but not yet decisive: a weighted
// vote of momentum, mean reversion and the model. A failed model member is
// dropped rather than sinking the blend.
func (s *AdaptiveElite) blendWeak(series *domain.OHLCVSeries, state MarketState) (domain.Signal, error) {
	type member struct {
		weight float64
		sig    domain.Signal
	}
	var members []member

	mom, err := s.momentum.Evaluate(series)
	if err != nil {
		return domain.Signal{}, err
	}
	members = append(members, member{0.4, mom})

	rev, err := s.reversion.Evaluate(series)
	if err != nil {
		return domain.Signal{}, err
	}
	members = append(members, member{0.3, rev})

	if s.ml != nil {
		mlSig, mlErr := s.ml.Evaluate(series)
		if mlErr != nil {
			s.log.Warn().Err(mlErr).Str("ticker", series.Ticker).
				Msg("Model member failed, blending without it")
		} else {
			members = append(members, member{0.3, mlSig})
		}
	}

	var wSum, prob, conf float64
	for _, m := range members {
		wSum += m.weight
		prob += m.weight * m.sig.Probability
		conf += m.weight * m.sig.Confidence
	}
	prob /= wSum
	conf /= wSum

	sig := baseSignal(series, s.Name(), prob, conf, state)
	return sig.WithMeta("blend_members", strconv.Itoa(len(members))), nil
}

// routeVolatile prefers the model in choppy tape, halving conviction and
// widening the stop so a volatile tape has room before the exit triggers;
// with no model the momentum read stands at reduced confidence.
func (s *AdaptiveElite) routeVolatile(series *domain.OHLCVSeries) (domain.Signal, error) {
	var sig domain.Signal
	var err error
	if s.ml != nil {
		sig, err = s.ml.Evaluate(series)
	} else {
		sig, err = s.momentum.Evaluate(series)
	}
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Confidence *= 0.5
	sig.Levels = widenStop(sig.Levels, series)
	return sig, nil
}

// widenStop pushes the stop away from entry by 1 + ATR%/100.
func widenStop(lv domain.Levels, series *domain.OHLCVSeries) domain.Levels {
	closes := series.Closes()
	last := closes[len(closes)-1]
	atr := talib.Atr(series.Highs(), series.Lows(), closes, 14)
	a := atr[len(atr)-1]
	if a <= 0 || last <= 0 || lv.StopLoss <= 0 || lv.Entry <= 0 {
		return lv
	}
	atrPct := a / last * 100
	lv.StopLoss = lv.Entry + (lv.StopLoss-lv.Entry)*(1+atrPct/100)
	return lv
}
