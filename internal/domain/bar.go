// Package domain contains the core types shared across the trading system.
// The domain layer is pure: no infrastructure dependencies, no I/O.
package domain

import (
	"fmt"
	"time"
)

// Interval is a bar granularity recognized by the data fabric.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
)

// Intraday reports whether the interval is finer than one day.
func (i Interval) Intraday() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval1h:
		return true
	}
	return false
}

// Duration returns the bar width. Weekly and monthly bars use calendar
// approximations; callers needing exact session arithmetic should not rely
// on them.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1wk:
		return 7 * 24 * time.Hour
	case Interval1mo:
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// CacheTTL returns how long a cached series for this interval stays fresh.
func (i Interval) CacheTTL() time.Duration {
	switch i {
	case Interval1m, Interval5m:
		return 10 * time.Minute
	case Interval15m, Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return 2 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// MaxHistory returns how far back a request for this interval may reach.
// Intraday upstreams cap history at 60 days.
func (i Interval) MaxHistory() time.Duration {
	if i.Intraday() {
		return 60 * 24 * time.Hour
	}
	return 20 * 365 * 24 * time.Hour
}

// DefaultLookback returns a sensible request window when the caller supplies
// an inverted or empty date range.
func (i Interval) DefaultLookback() time.Duration {
	switch i {
	case Interval1m, Interval5m:
		return 5 * 24 * time.Hour
	case Interval15m, Interval30m:
		return 10 * 24 * time.Hour
	case Interval1h:
		return 30 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// ParseInterval validates a string interval.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval1d, Interval1wk, Interval1mo:
		return Interval(s), nil
	}
	return "", fmt.Errorf("unrecognized interval: %q", s)
}

// OHLCVBar is a single immutable price bar. T is the bar-close instant in
// market time (tz-naive by convention: stored as wall-clock IST).
type OHLCVBar struct {
	T      time.Time `json:"t"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar satisfies the OHLC inequality invariant and
// has non-negative volume.
func (b OHLCVBar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	lo, hi := b.Open, b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && hi <= b.High
}

// OHLCVSeries is an ordered bar sequence with strictly increasing timestamps.
type OHLCVSeries struct {
	Ticker   string     `json:"ticker"`
	Interval Interval   `json:"interval"`
	Bars     []OHLCVBar `json:"bars"`
	Source   string     `json:"source,omitempty"`
	IsStale  bool       `json:"is_stale,omitempty"`
}

// Len returns the number of bars.
func (s *OHLCVSeries) Len() int { return len(s.Bars) }

// Empty reports whether the series has no bars.
func (s *OHLCVSeries) Empty() bool { return len(s.Bars) == 0 }

// Last returns the most recent bar, or false when the series is empty.
func (s *OHLCVSeries) Last() (OHLCVBar, bool) {
	if len(s.Bars) == 0 {
		return OHLCVBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Closes extracts the close column.
func (s *OHLCVSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high column.
func (s *OHLCVSeries) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low column.
func (s *OHLCVSeries) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts the volume column.
func (s *OHLCVSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Quote is a single price snapshot for a ticker.
type Quote struct {
	Ticker        string    `json:"ticker"`
	LastPrice     float64   `json:"last_price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PrevClose     float64   `json:"prev_close"`
	Volume        float64   `json:"volume"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
