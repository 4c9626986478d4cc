// Package signals produces the trading signals: the elite multi-timeframe
// path and the quant ensemble path.
package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/niveshlabs/nivesh/internal/config"
	"github.com/niveshlabs/nivesh/internal/datafabric"
	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/ensemble"
	"github.com/niveshlabs/nivesh/internal/features"
	"github.com/niveshlabs/nivesh/internal/markethours"
	"github.com/niveshlabs/nivesh/internal/models"
	"github.com/niveshlabs/nivesh/internal/mtf"
	"github.com/niveshlabs/nivesh/internal/strategy"
)

// eliteTimeframes are the frames the elite path evaluates, fastest first.
var eliteTimeframes = []domain.Interval{
	domain.Interval5m, domain.Interval15m, domain.Interval1h, domain.Interval1d,
}

// trackerWindow bounds performance lookback when weighting ensemble
// members.
const trackerWindow = 30 * 24 * time.Hour

// forwardHorizon is the label horizon in bars for quant model training.
const forwardHorizon = 5

// Generator builds signals from market data. All dependencies are
// injected; the generator owns no goroutines beyond per-call fan-out.
type Generator struct {
	fabric   *datafabric.Fabric
	engine   *features.Engine
	registry *models.Registry
	tracker  *models.Tracker
	combiner *ensemble.Combiner
	filter   *strategy.Filter
	agg      *mtf.Aggregator
	hours    *markethours.Service
	cfg      config.TradingConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewGenerator wires the signal pipeline.
func NewGenerator(
	fabric *datafabric.Fabric,
	engine *features.Engine,
	registry *models.Registry,
	tracker *models.Tracker,
	combiner *ensemble.Combiner,
	filter *strategy.Filter,
	agg *mtf.Aggregator,
	hours *markethours.Service,
	cfg config.TradingConfig,
	log zerolog.Logger,
) *Generator {
	return &Generator{
		fabric:   fabric,
		engine:   engine,
		registry: registry,
		tracker:  tracker,
		combiner: combiner,
		filter:   filter,
		agg:      agg,
		hours:    hours,
		cfg:      cfg,
		log:      log.With().Str("component", "signals").Logger(),
		now:      time.Now,
	}
}

// Generate routes to the configured signal source.
func (g *Generator) Generate(ctx context.Context, ticker string) (*domain.MultiTimeframeSignal, error) {
	switch g.cfg.SignalSource {
	case config.SourceElite:
		return g.GenerateElite(ctx, ticker)
	case config.SourceQuant, config.SourceQuantEnsemble:
		sig, err := g.GenerateQuant(ctx, ticker)
		if err != nil {
			return nil, err
		}
		return singleFrame(sig), nil
	default:
		return nil, fmt.Errorf("unrecognized signal source %q", g.cfg.SignalSource)
	}
}

// GenerateElite evaluates every timeframe in parallel and aggregates the
// survivors. Individual timeframe failures degrade the consensus instead
// of failing it; the whole call errors only when no frame produced a
// signal.
func (g *Generator) GenerateElite(ctx context.Context, ticker string) (*domain.MultiTimeframeSignal, error) {
	var mu sync.Mutex
	frames := make(map[domain.Interval]domain.Signal, len(eliteTimeframes))

	eg, ctx := errgroup.WithContext(ctx)
	for _, tf := range eliteTimeframes {
		eg.Go(func() error {
			sig, err := g.evaluateTimeframe(ctx, ticker, tf)
			if err != nil {
				g.log.Debug().Err(err).Str("ticker", ticker).Str("timeframe", string(tf)).
					Msg("Timeframe skipped")
				return nil
			}
			mu.Lock()
			frames[tf] = sig
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}

	marketOpen := g.hours.IsMarketOpen(g.now())
	return g.agg.Aggregate(ticker, frames, marketOpen)
}

// evaluateTimeframe runs the adaptive elite strategy on one frame and
// gates it through the filter.
func (g *Generator) evaluateTimeframe(ctx context.Context, ticker string, tf domain.Interval) (domain.Signal, error) {
	to := g.now()
	series, err := g.fabric.GetOHLCV(ctx, ticker, tf, to.Add(-tf.DefaultLookback()), to)
	if err != nil {
		return domain.Signal{}, err
	}

	ml := g.mlStrategy(series)
	elite := strategy.NewAdaptiveElite(ml, g.log)
	sig, err := elite.Evaluate(series)
	if err != nil {
		return domain.Signal{}, err
	}
	if series.IsStale {
		sig = sig.WithMeta("stale_data", "true")
		sig.Confidence *= 0.8
	}
	return g.filter.Apply(sig, series, 0, 0), nil
}

// mlStrategy returns the model-backed strategy when a trained model exists
// for the series, nil otherwise.
func (g *Generator) mlStrategy(series *domain.OHLCVSeries) *strategy.ML {
	if g.registry == nil {
		return nil
	}
	model, ok, err := g.registry.LoadLogistic(series.Ticker, series.Interval)
	if err != nil || !ok {
		return nil
	}
	return strategy.NewML(g.engine, model, g.log)
}

// GenerateQuant runs the daily-frame model ensemble: the logistic model
// (trained on the spot if absent), momentum, and mean reversion vote; the
// combiner blends them by tracked performance.
func (g *Generator) GenerateQuant(ctx context.Context, ticker string) (*domain.Signal, error) {
	to := g.now()
	series, err := g.fabric.GetOHLCV(ctx, ticker, domain.Interval1d,
		to.Add(-domain.Interval1d.DefaultLookback()), to)
	if err != nil {
		return nil, err
	}

	members, agreeing, err := g.quantMembers(series)
	if err != nil {
		return nil, err
	}

	combined, err := g.combiner.Combine(members)
	if err != nil {
		return nil, err
	}

	state, err := strategy.DetectRegime(series)
	if err != nil {
		return nil, err
	}

	sig := domain.Signal{
		Ticker:      ticker,
		Timeframe:   domain.Interval1d,
		Kind:        domain.KindFromProbability(combined.Probability),
		Probability: combined.Probability,
		Confidence:  combined.Confidence,
		Strategy:    "quant_ensemble",
		Regime:      state.Regime,
		GeneratedAt: g.now(),
	}
	sig = sig.WithMeta("ensemble_method", combined.Method)
	sig.Levels = quantLevels(series, sig.Kind)

	out := g.filter.Apply(sig, series, agreeing, len(members))
	return &out, nil
}

// quantMembers gathers the ensemble votes and counts how many share the
// majority direction.
func (g *Generator) quantMembers(series *domain.OHLCVSeries) ([]ensemble.Member, int, error) {
	var members []ensemble.Member

	if prob, modelID, err := g.modelProbability(series); err == nil {
		members = append(members, g.member(modelID, prob))
	} else {
		g.log.Warn().Err(err).Str("ticker", series.Ticker).Msg("Quant model unavailable")
	}

	if sig, err := (strategy.Momentum{}).Evaluate(series); err == nil {
		members = append(members, g.member("strategy:momentum", sig.Probability))
	}
	if sig, err := (strategy.MeanReversion{}).Evaluate(series); err == nil {
		members = append(members, g.member("strategy:mean_reversion", sig.Probability))
	}
	if len(members) == 0 {
		return nil, 0, domain.NoDataError(series.Ticker, nil)
	}

	bull, bear := 0, 0
	for _, m := range members {
		switch {
		case m.Prediction.Probability >= domain.ThresholdBuy:
			bull++
		case m.Prediction.Probability <= domain.ThresholdSell:
			bear++
		}
	}
	agreeing := bull
	if bear > bull {
		agreeing = bear
	}
	return members, agreeing, nil
}

func (g *Generator) member(modelID string, prob float64) ensemble.Member {
	perf := models.ModelPerformance{ModelID: modelID}
	if g.tracker != nil {
		if p, err := g.tracker.Performance(modelID, trackerWindow); err == nil {
			perf = p
		}
	}
	return ensemble.Member{
		Prediction:  domain.Prediction{ModelID: modelID, Probability: prob, Timestamp: g.now()},
		Performance: perf,
	}
}

// modelProbability scores the latest row with the registered logistic
// model, training and registering one first when none exists.
func (g *Generator) modelProbability(series *domain.OHLCVSeries) (float64, string, error) {
	model, ok, err := g.registry.LoadLogistic(series.Ticker, series.Interval)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		model, err = g.trainModel(series)
		if err != nil {
			return 0, "", err
		}
	}

	frame, err := g.engine.MakeFeatures(series)
	if err != nil {
		return 0, "", err
	}
	row := frame.Row(frame.Len()-1, model.Features())
	prob, err := model.PredictProba(row)
	if err != nil {
		return 0, "", err
	}
	return prob, model.ID(), nil
}

func (g *Generator) trainModel(series *domain.OHLCVSeries) (*models.Logistic, error) {
	frame, err := g.engine.MakeFeatures(series)
	if err != nil {
		return nil, err
	}
	if err := g.engine.AddForwardReturnLabel(frame, forwardHorizon); err != nil {
		return nil, err
	}
	frame.Clean()

	metrics, err := models.WalkForward(func() models.Predictor {
		return models.NewLogistic(series.Ticker, series.Interval)
	}, frame)
	if err != nil {
		return nil, err
	}

	model := models.NewLogistic(series.Ticker, series.Interval)
	if err := model.Train(frame); err != nil {
		return nil, err
	}
	if err := g.registry.Register(model, "logistic", series.Ticker, series.Interval, frame.Len(), metrics); err != nil {
		return nil, err
	}
	g.log.Info().Str("ticker", series.Ticker).Float64("accuracy", metrics.Accuracy).
		Msg("Trained quant model at signal time")
	return model, nil
}

// quantLevels derives levels from recent swing extremes rather than ATR;
// the quant path positions around the daily structure.
func quantLevels(series *domain.OHLCVSeries, kind domain.SignalKind) domain.Levels {
	closes := series.Closes()
	entry := closes[len(closes)-1]

	lookback := 20
	if series.Len() < lookback {
		lookback = series.Len()
	}
	tail := series.Bars[series.Len()-lookback:]
	hi, lo := tail[0].High, tail[0].Low
	for _, b := range tail {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}

	if kind.Bearish() {
		return domain.Levels{
			Entry:    entry,
			StopLoss: hi,
			Target1:  entry - (hi-entry)*1.0,
			Target2:  lo,
		}
	}
	return domain.Levels{
		Entry:    entry,
		StopLoss: lo,
		Target1:  entry + (entry-lo)*1.0,
		Target2:  hi + (hi - lo),
	}
}

// singleFrame lifts a one-frame signal into the multi-timeframe shape so
// downstream consumers handle both paths uniformly.
func singleFrame(sig *domain.Signal) *domain.MultiTimeframeSignal {
	return &domain.MultiTimeframeSignal{
		Ticker:          sig.Ticker,
		ConsensusSignal: sig.Kind,
		Probability:     sig.Probability,
		Confidence:      sig.Confidence,
		Levels:          sig.Levels,
		Breakdown:       map[domain.Interval]domain.Signal{sig.Timeframe: *sig},
		Weights:         map[domain.Interval]float64{sig.Timeframe: 1},
		GeneratedAt:     sig.GeneratedAt,
	}
}
