package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// trendingSeries rises steadily with expanding volume.
func trendingSeries(n int) *domain.OHLCVSeries {
	bars := make([]domain.OHLCVBar, n)
	t := time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		price *= 1.01
		bars[i] = domain.OHLCVBar{
			T: t.AddDate(0, 0, i), Open: price * 0.995, High: price * 1.005,
			Low: price * 0.99, Close: price, Volume: 100000 * math.Pow(1.03, float64(i)),
		}
	}
	return &domain.OHLCVSeries{Ticker: "TREND.NS", Interval: domain.Interval1d, Bars: bars}
}

// decliningSeries falls steadily with expanding volume.
func decliningSeries(n int) *domain.OHLCVSeries {
	bars := make([]domain.OHLCVBar, n)
	t := time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		price *= 0.99
		bars[i] = domain.OHLCVBar{
			T: t.AddDate(0, 0, i), Open: price * 1.005, High: price * 1.01,
			Low: price * 0.995, Close: price, Volume: 100000 * math.Pow(1.03, float64(i)),
		}
	}
	return &domain.OHLCVSeries{Ticker: "DROP.NS", Interval: domain.Interval1d, Bars: bars}
}

// choppySeries oscillates around a flat level.
func choppySeries(n int) *domain.OHLCVSeries {
	bars := make([]domain.OHLCVBar, n)
	t := time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC)
	for i := range bars {
		price := 100 + 2*math.Sin(float64(i)/2)
		bars[i] = domain.OHLCVBar{
			T: t.AddDate(0, 0, i), Open: price, High: price + 0.8,
			Low: price - 0.8, Close: price, Volume: 100000,
		}
	}
	return &domain.OHLCVSeries{Ticker: "CHOP.NS", Interval: domain.Interval1d, Bars: bars}
}

func TestDetectRegimeTrending(t *testing.T) {
	state, err := DetectRegime(trendingSeries(120))
	require.NoError(t, err)

	assert.Contains(t, []domain.Regime{domain.RegimeStrongTrend, domain.RegimeWeakTrend}, state.Regime)
	assert.Equal(t, domain.PhaseBull, state.Phase)
	assert.Greater(t, state.ADX, adxWeakTrend)
}

func TestDetectRegimeChoppy(t *testing.T) {
	state, err := DetectRegime(choppySeries(120))
	require.NoError(t, err)

	assert.Contains(t, []domain.Regime{domain.RegimeRanging, domain.RegimeHighVolatility}, state.Regime)
}

func TestDetectRegimeShortSeries(t *testing.T) {
	_, err := DetectRegime(trendingSeries(30))
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestMomentumBullishInUptrend(t *testing.T) {
	sig, err := Momentum{}.Evaluate(trendingSeries(120))
	require.NoError(t, err)

	assert.True(t, sig.Kind.Bullish(), "got %s with p=%.2f", sig.Kind, sig.Probability)
	assert.Greater(t, sig.Probability, 0.55)
	assert.Equal(t, "momentum", sig.Strategy)
	assert.Greater(t, sig.Levels.Entry, sig.Levels.StopLoss)
	assert.Greater(t, sig.Levels.Target2, sig.Levels.Target1)
}

func TestMeanReversionWeakInTrend(t *testing.T) {
	sig, err := MeanReversion{}.Evaluate(trendingSeries(120))
	require.NoError(t, err)
	assert.LessOrEqual(t, sig.Confidence, 0.35, "fading a trend must carry low confidence")
}

func TestAdaptiveEliteRoutesByRegime(t *testing.T) {
	elite := NewAdaptiveElite(nil, zerolog.Nop())

	sig, err := elite.Evaluate(trendingSeries(120))
	require.NoError(t, err)
	assert.Equal(t, "adaptive_elite", sig.Strategy)
	assert.Contains(t, sig.Metadata, "routed_regime")
}

func TestAdaptiveEliteWeakTrendBlends(t *testing.T) {
	elite := NewAdaptiveElite(nil, zerolog.Nop())
	series := trendingSeries(120)

	mom, err := Momentum{}.Evaluate(series)
	require.NoError(t, err)
	rev, err := MeanReversion{}.Evaluate(series)
	require.NoError(t, err)

	sig, err := elite.blendWeak(series, MarketState{Regime: domain.RegimeWeakTrend})
	require.NoError(t, err)

	assert.Equal(t, "2", sig.Metadata["blend_members"], "no model, two members blend")
	lo := math.Min(mom.Probability, rev.Probability)
	hi := math.Max(mom.Probability, rev.Probability)
	assert.GreaterOrEqual(t, sig.Probability, lo)
	assert.LessOrEqual(t, sig.Probability, hi)
}

func TestAdaptiveEliteWidensStopInVolatileTape(t *testing.T) {
	series := trendingSeries(120)

	long := domain.Levels{Entry: 100, StopLoss: 96, Target1: 106, Target2: 112}
	widened := widenStop(long, series)
	assert.Less(t, widened.StopLoss, long.StopLoss, "long stop must move further below entry")
	assert.Equal(t, long.Target1, widened.Target1)
	assert.Equal(t, long.Target2, widened.Target2)

	short := domain.Levels{Entry: 100, StopLoss: 104, Target1: 94, Target2: 88}
	widened = widenStop(short, series)
	assert.Greater(t, widened.StopLoss, short.StopLoss, "short stop must move further above entry")
}

func TestFilterPassesStrongSignal(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	series := trendingSeries(120)
	sig := domain.Signal{
		Ticker: "TREND.NS", Kind: domain.SignalBuy, Probability: 0.7,
		Confidence: 0.9, Regime: domain.RegimeStrongTrend,
	}

	out := f.Apply(sig, series, 3, 3)
	assert.Equal(t, domain.SignalBuy, out.Kind)
	assert.NotContains(t, out.Metadata, "filtered")
}

func TestFilterRejectsLowConfidence(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	sig := domain.Signal{
		Ticker: "TREND.NS", Kind: domain.SignalBuy, Probability: 0.6,
		Confidence: 0.69, Regime: domain.RegimeRanging,
	}

	out := f.Apply(sig, trendingSeries(120), 0, 0)
	assert.Equal(t, domain.SignalHold, out.Kind)
	assert.Contains(t, out.Metadata["filtered"], "confidence")
}

func TestFilterRejectsSplitEnsemble(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	sig := domain.Signal{
		Ticker: "TREND.NS", Kind: domain.SignalBuy, Probability: 0.7,
		Confidence: 0.95, Regime: domain.RegimeStrongTrend,
	}

	out := f.Apply(sig, trendingSeries(120), 1, 3)
	assert.Equal(t, domain.SignalHold, out.Kind)
	assert.Contains(t, out.Metadata["filtered"], "models agree")
}

func TestFilterHoldGates(t *testing.T) {
	f := NewFilter(zerolog.Nop())

	// A confident hold with no directional consensus behind it stands.
	hold := domain.Signal{Ticker: "X.NS", Kind: domain.SignalHold, Confidence: 0.65}
	out := f.Apply(hold, nil, 1, 3)
	assert.Equal(t, domain.SignalHold, out.Kind)
	assert.NotContains(t, out.Metadata, "filtered")

	// A weak hold fails the 0.60 floor.
	weak := domain.Signal{Ticker: "X.NS", Kind: domain.SignalHold, Confidence: 0.40}
	out = f.Apply(weak, nil, 0, 0)
	assert.Contains(t, out.Metadata["filtered"], "hold gate")

	// A hold contradicted by a model majority is flagged too.
	contra := domain.Signal{Ticker: "X.NS", Kind: domain.SignalHold, Confidence: 0.80}
	out = f.Apply(contra, nil, 2, 3)
	assert.Contains(t, out.Metadata["filtered"], "agree on a direction")
}

func TestFilterTrendConfirmationSymmetric(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	falling := decliningSeries(120)

	sell := domain.Signal{
		Ticker: "DROP.NS", Kind: domain.SignalSell, Probability: 0.3,
		Confidence: 0.9, Regime: domain.RegimeWeakTrend,
	}
	out := f.Apply(sell, falling, 0, 0)
	assert.True(t, out.Kind.Bearish(), "a sell in a falling tape must survive: %v", out.Metadata)

	buy := sell
	buy.Kind = domain.SignalBuy
	buy.Probability = 0.7
	out = f.Apply(buy, falling, 0, 0)
	assert.Equal(t, domain.SignalHold, out.Kind)
	assert.Contains(t, out.Metadata["filtered"], "trend")
}

func TestFilterConfidenceScaling(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	sig := domain.Signal{
		Ticker: "TREND.NS", Kind: domain.SignalBuy, Probability: 0.7,
		Confidence: 0.80, Regime: domain.RegimeStrongTrend,
	}

	out := f.Apply(sig, trendingSeries(120), 0, 0)
	// The factor depends on the tape's ATR, ADX and volume run-rate.
	assert.Contains(t, out.Metadata, "confidence_scale")
	assert.LessOrEqual(t, out.Confidence, 1.0)
}
