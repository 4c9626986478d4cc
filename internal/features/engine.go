package features

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// warmupRows covers the longest indicator lookback (SMA50, MACD 26+9,
// Ichimoku 52). talib pads the warm-up region with zeros, so those rows are
// cut rather than cleaned.
const warmupRows = 60

// minBars is the smallest series the engine accepts: warm-up plus enough
// remaining rows to be worth modeling.
const minBars = warmupRows + 20

// Engine computes feature frames from bar series.
type Engine struct {
	cache *Cache
	log   zerolog.Logger
}

// NewEngine creates a feature engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "features").Logger()}
}

// WithCache makes the engine reuse frames persisted by a previous run while
// they are within the interval's TTL.
func (e *Engine) WithCache(c *Cache) *Engine {
	e.cache = c
	return e
}

func seriesTimes(series *domain.OHLCVSeries) []time.Time {
	times := make([]time.Time, series.Len())
	for i, b := range series.Bars {
		times[i] = b.T
	}
	return times
}

// MakeFeatures computes the full feature set for a series. Intraday series
// additionally get session-anchored features (VWAP distance, opening
// range). The first warmupRows rows are dropped.
func (e *Engine) MakeFeatures(series *domain.OHLCVSeries) (*Frame, error) {
	if series == nil || series.Len() < minBars {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return nil, fmt.Errorf("%w: need %d bars, have %d", domain.ErrNoData, minBars, n)
	}

	if e.cache != nil {
		if cached := e.cache.Get(series.Ticker, series.Interval); cached != nil {
			return cached, nil
		}
	}

	opens := make([]float64, series.Len())
	for i, b := range series.Bars {
		opens[i] = b.Open
	}
	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()
	volumes := series.Volumes()

	f := newFrame(series.Ticker, series.Interval, seriesTimes(series))
	f.Closes = append([]float64(nil), closes...)

	// Returns.
	f.add("ret_1", pctChange(closes, 1))
	f.add("ret_5", pctChange(closes, 5))
	f.add("ret_10", pctChange(closes, 10))
	f.add("log_ret_1", logReturn(closes))

	// Trend: price relative to moving averages.
	sma10 := talib.Sma(closes, 10)
	sma20 := talib.Sma(closes, 20)
	sma50 := talib.Sma(closes, 50)
	f.add("px_sma10", ratioMinusOne(closes, sma10))
	f.add("px_sma20", ratioMinusOne(closes, sma20))
	f.add("px_sma50", ratioMinusOne(closes, sma50))
	f.add("sma10_sma50", ratioMinusOne(sma10, sma50))
	f.add("px_ema9", ratioMinusOne(closes, talib.Ema(closes, 9)))
	f.add("px_ema21", ratioMinusOne(closes, talib.Ema(closes, 21)))

	// Momentum oscillators.
	f.add("rsi_7", talib.Rsi(closes, 7))
	f.add("rsi_14", talib.Rsi(closes, 14))
	f.add("rsi_21", talib.Rsi(closes, 21))
	stochK, stochD := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	f.add("stoch_k", stochK)
	f.add("stoch_d", stochD)
	f.add("willr_14", talib.WillR(highs, lows, closes, 14))
	f.add("cci_20", talib.Cci(highs, lows, closes, 20))
	f.add("roc_10", talib.Roc(closes, 10))
	f.add("mom_10", normalizeBy(talib.Mom(closes, 10), closes))

	// Trend strength.
	f.add("adx_14", talib.Adx(highs, lows, closes, 14))
	plusDI := talib.PlusDI(highs, lows, closes, 14)
	minusDI := talib.MinusDI(highs, lows, closes, 14)
	f.add("plus_di", plusDI)
	f.add("minus_di", minusDI)
	f.add("di_diff", diff(plusDI, minusDI))

	// MACD, normalized by price so tickers are comparable.
	macd, macdSignal, macdHist := talib.Macd(closes, 12, 26, 9)
	f.add("macd", normalizeBy(macd, closes))
	f.add("macd_signal", normalizeBy(macdSignal, closes))
	f.add("macd_hist", normalizeBy(macdHist, closes))

	// Volatility.
	atr := talib.Atr(highs, lows, closes, 14)
	f.add("atr_pct", normalizeBy(atr, closes))
	f.add("bb_pos", bollingerPositions(closes, 20, 2))
	f.add("bb_width", bollingerWidths(closes, 20, 2))
	// talib accumulates running sums, so the returns fed to it must be
	// NaN-free; the seeded row sits inside the warm-up cut anyway.
	rets := pctChange(closes, 1)
	rets[0] = 0
	f.add("ret_std_20", talib.StdDev(rets, 20, 1))
	f.add("range_pct", rangePct(highs, lows, closes))
	f.add("gap_pct", gapPct(opens, closes))

	// Volume.
	f.add("vol_ratio_20", ratio(volumes, talib.Sma(volumes, 20)))
	f.add("obv_slope_10", slope(talib.Obv(closes, volumes), 10))
	f.add("mfi_14", talib.Mfi(highs, lows, closes, volumes, 14))

	// Structure.
	f.add("close_pos", closePosition(highs, lows, closes))
	tenkan := midpointChannel(highs, lows, 9)
	kijun := midpointChannel(highs, lows, 26)
	f.add("tenkan_dist", ratioMinusOne(closes, tenkan))
	f.add("kijun_dist", ratioMinusOne(closes, kijun))
	f.add("tenkan_kijun", ratioMinusOne(tenkan, kijun))
	f.add("close_pctile_50", rollingPercentileRank(closes, 50))

	if series.Interval.Intraday() {
		f.add("vwap_dist", sessionVWAPDistance(series))
		orPos, orBreak := openingRange(series)
		f.add("or_pos", orPos)
		f.add("or_breakout", orBreak)
	}

	f.slice(warmupRows, f.Len())
	e.log.Debug().Str("ticker", series.Ticker).Str("interval", string(series.Interval)).
		Int("rows", f.Len()).Int("features", len(f.Names)).Msg("Built feature frame")

	if e.cache != nil {
		if err := e.cache.Put(f); err != nil {
			e.log.Warn().Err(err).Str("ticker", series.Ticker).Msg("Failed to persist feature frame")
		}
	}
	return f, nil
}

// AddForwardReturnLabel appends the binary target: 1 when the close
// `horizon` bars ahead is higher than the current close. The last horizon
// rows get NaN and fall out in Clean.
func (e *Engine) AddForwardReturnLabel(f *Frame, horizon int) error {
	if horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if len(f.Closes) != f.Len() {
		return fmt.Errorf("frame is missing its close path")
	}

	label := make([]float64, f.Len())
	for i := range label {
		if i+horizon >= f.Len() {
			label[i] = math.NaN()
			continue
		}
		if f.Closes[i+horizon] > f.Closes[i] {
			label[i] = 1
		}
	}
	f.add(LabelColumn, label)
	return nil
}
