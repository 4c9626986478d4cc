package features

import (
	"math"
	"sort"
	"time"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// Column helpers. All return slices the same length as their inputs with
// NaN where a value cannot be computed yet; warm-up rows are cut by the
// engine so NaN only survives where upstream data was genuinely unusable.

func pctChange(values []float64, lag int) []float64 {
	out := nanSlice(len(values))
	for i := lag; i < len(values); i++ {
		if values[i-lag] != 0 {
			out[i] = values[i]/values[i-lag] - 1
		}
	}
	return out
}

func logReturn(values []float64) []float64 {
	out := nanSlice(len(values))
	for i := 1; i < len(values); i++ {
		if values[i] > 0 && values[i-1] > 0 {
			out[i] = math.Log(values[i] / values[i-1])
		}
	}
	return out
}

// ratioMinusOne returns a/b - 1, NaN where b is zero or still in warm-up.
func ratioMinusOne(a, b []float64) []float64 {
	out := nanSlice(len(a))
	for i := range a {
		if b[i] != 0 {
			out[i] = a[i]/b[i] - 1
		}
	}
	return out
}

func ratio(a, b []float64) []float64 {
	out := nanSlice(len(a))
	for i := range a {
		if b[i] != 0 {
			out[i] = a[i] / b[i]
		}
	}
	return out
}

func diff(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// normalizeBy divides each value by the reference (price) at the same row.
func normalizeBy(values, reference []float64) []float64 {
	out := nanSlice(len(values))
	for i := range values {
		if reference[i] != 0 {
			out[i] = values[i] / reference[i]
		}
	}
	return out
}

// slope returns the per-bar change of the series averaged over the window,
// normalized by the absolute level so it is scale-free.
func slope(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	for i := window; i < len(values); i++ {
		level := math.Abs(values[i])
		if level == 0 {
			level = 1
		}
		out[i] = (values[i] - values[i-window]) / float64(window) / level
	}
	return out
}

func rangePct(highs, lows, closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := range closes {
		if closes[i] != 0 {
			out[i] = (highs[i] - lows[i]) / closes[i]
		}
	}
	return out
}

// gapPct is the open relative to the previous close.
func gapPct(opens, closes []float64) []float64 {
	out := nanSlice(len(opens))
	for i := 1; i < len(opens); i++ {
		if closes[i-1] != 0 {
			out[i] = opens[i]/closes[i-1] - 1
		}
	}
	return out
}

// closePosition locates the close within the bar's range, 0 at the low and
// 1 at the high. A zero-range bar scores 0.5.
func closePosition(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		width := highs[i] - lows[i]
		if width <= 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (closes[i] - lows[i]) / width
	}
	return out
}

// midpointChannel is the Ichimoku-style (highest high + lowest low) / 2.
func midpointChannel(highs, lows []float64, window int) []float64 {
	out := nanSlice(len(highs))
	for i := window - 1; i < len(highs); i++ {
		hh, ll := highs[i], lows[i]
		for j := i - window + 1; j < i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		out[i] = (hh + ll) / 2
	}
	return out
}

// rollingPercentileRank ranks the current value within its trailing window,
// in [0, 1].
func rollingPercentileRank(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	buf := make([]float64, window)
	for i := window - 1; i < len(values); i++ {
		copy(buf, values[i-window+1:i+1])
		sort.Float64s(buf)
		rank := sort.SearchFloat64s(buf, values[i])
		out[i] = float64(rank) / float64(window-1)
	}
	return out
}

// bollingerPositions is the rolling version of the band position: 0 at the
// lower band, 1 at the upper, clamped.
func bollingerPositions(closes []float64, window int, k float64) []float64 {
	out := nanSlice(len(closes))
	for i := window - 1; i < len(closes); i++ {
		mean, std := meanStd(closes[i-window+1 : i+1])
		width := 2 * k * std
		if width == 0 {
			out[i] = 0.5
			continue
		}
		pos := (closes[i] - (mean - k*std)) / width
		out[i] = clamp01(pos)
	}
	return out
}

// bollingerWidths is the band width relative to the middle band.
func bollingerWidths(closes []float64, window int, k float64) []float64 {
	out := nanSlice(len(closes))
	for i := window - 1; i < len(closes); i++ {
		mean, std := meanStd(closes[i-window+1 : i+1])
		if mean != 0 {
			out[i] = 2 * k * std / mean
		}
	}
	return out
}

// sessionVWAPDistance is close relative to the session-anchored VWAP. The
// accumulator resets at each new trading day.
func sessionVWAPDistance(series *domain.OHLCVSeries) []float64 {
	out := nanSlice(series.Len())
	var cumPV, cumV float64
	var day int
	for i, b := range series.Bars {
		if d := b.T.YearDay() + b.T.Year()*1000; d != day {
			day = d
			cumPV, cumV = 0, 0
		}
		typical := (b.High + b.Low + b.Close) / 3
		cumPV += typical * b.Volume
		cumV += b.Volume
		if cumV > 0 {
			vwap := cumPV / cumV
			if vwap != 0 {
				out[i] = b.Close/vwap - 1
			}
		}
	}
	return out
}

// openingRangeWindow is the session slice that defines the opening range.
const openingRangeWindow = 30 * time.Minute

// openingRange returns two columns: where the close sits inside the first
// 30 minutes' range, and a breakout flag (+1 above, -1 below, 0 inside).
func openingRange(series *domain.OHLCVSeries) (pos, breakout []float64) {
	pos = nanSlice(series.Len())
	breakout = make([]float64, series.Len())

	var day int
	var sessionStart time.Time
	var orHigh, orLow float64
	var orDone bool

	for i, b := range series.Bars {
		if d := b.T.YearDay() + b.T.Year()*1000; d != day {
			day = d
			sessionStart = b.T
			orHigh, orLow = b.High, b.Low
			orDone = false
		}
		if !orDone && b.T.Sub(sessionStart) <= openingRangeWindow {
			if b.High > orHigh {
				orHigh = b.High
			}
			if b.Low < orLow {
				orLow = b.Low
			}
		} else {
			orDone = true
		}

		width := orHigh - orLow
		if width > 0 {
			pos[i] = clamp01((b.Close - orLow) / width)
		} else {
			pos[i] = 0.5
		}
		switch {
		case b.Close > orHigh:
			breakout[i] = 1
		case b.Close < orLow:
			breakout[i] = -1
		}
	}
	return pos, breakout
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func meanStd(window []float64) (float64, float64) {
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(window)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
