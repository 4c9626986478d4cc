package datafabric

import (
	"fmt"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// validate checks a fetched series in place. Negative or zero prices mean
// the upstream payload is corrupt and the whole series is rejected. Bars
// violating the OHLC inequality are dropped with a warning. Time gaps wider
// than three bar widths are logged but keep the series usable.
func (f *Fabric) validate(series *domain.OHLCVSeries) error {
	if series == nil || series.Empty() {
		return domain.NoDataError("", nil)
	}

	for _, bar := range series.Bars {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return fmt.Errorf("%w: non-positive price at %s in %s bars from %s",
				domain.ErrValidationFailed, bar.T.Format("2006-01-02 15:04"), series.Interval, series.Source)
		}
	}

	kept := series.Bars[:0]
	dropped := 0
	for _, bar := range series.Bars {
		if !bar.Valid() {
			dropped++
			continue
		}
		kept = append(kept, bar)
	}
	series.Bars = kept
	if dropped > 0 {
		f.log.Warn().Str("ticker", series.Ticker).Str("source", series.Source).
			Int("dropped", dropped).Msg("Dropped bars violating OHLC inequality")
	}
	if series.Empty() {
		return fmt.Errorf("%w: every bar failed validation", domain.ErrValidationFailed)
	}

	f.warnOnGaps(series)
	return nil
}

// warnOnGaps flags missing stretches in intraday data. Bars across a
// session boundary (overnight, weekends, holidays) are expected to jump, so
// only gaps within the same trading day count.
func (f *Fabric) warnOnGaps(series *domain.OHLCVSeries) {
	if !series.Interval.Intraday() {
		return
	}
	limit := 3 * series.Interval.Duration()
	gaps := 0
	for i := 1; i < len(series.Bars); i++ {
		prev, cur := series.Bars[i-1].T, series.Bars[i].T
		if cur.YearDay() != prev.YearDay() || cur.Year() != prev.Year() {
			continue
		}
		if cur.Sub(prev) > limit {
			gaps++
		}
	}
	if gaps > 0 {
		f.log.Warn().Str("ticker", series.Ticker).Str("interval", string(series.Interval)).
			Int("gaps", gaps).Msg("Intraday series has time gaps")
	}
}
