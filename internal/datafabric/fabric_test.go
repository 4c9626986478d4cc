package datafabric

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/markethours"
)

type fakeSource struct {
	name    string
	series  *domain.OHLCVSeries
	quote   *domain.Quote
	err     error
	calls   int
	failFor int // fail this many calls, then succeed
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) FetchOHLCV(_ context.Context, ticker string, interval domain.Interval, _, _ time.Time) (*domain.OHLCVSeries, error) {
	s.calls++
	if s.err != nil && s.calls <= s.failFor {
		return nil, s.err
	}
	if s.series == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, domain.NoDataError(ticker, nil)
	}
	cp := *s.series
	cp.Ticker = ticker
	cp.Interval = interval
	cp.Source = s.name
	return &cp, nil
}

func (s *fakeSource) FetchQuote(_ context.Context, ticker string) (*domain.Quote, error) {
	s.calls++
	if s.err != nil && s.calls <= s.failFor {
		return nil, s.err
	}
	if s.quote == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, domain.NoDataError(ticker, nil)
	}
	q := *s.quote
	q.Source = s.name
	return &q, nil
}

func dailyBars(n int, start float64) []domain.OHLCVBar {
	bars := make([]domain.OHLCVBar, n)
	t := time.Date(2026, 8, 3, 15, 30, 0, 0, time.UTC)
	for i := range bars {
		c := start + float64(i)
		bars[i] = domain.OHLCVBar{
			T: t.AddDate(0, 0, i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
	}
	return bars
}

func newTestFabric(t *testing.T, sources ...Source) *Fabric {
	t.Helper()
	cache, err := NewCache(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	f := New(sources, cache, markethours.NewService(), zerolog.Nop())
	f.retryDelay = time.Millisecond
	return f
}

func TestGetOHLCVFirstSourceWins(t *testing.T) {
	primary := &fakeSource{name: "broker", series: &domain.OHLCVSeries{Bars: dailyBars(5, 100)}}
	backup := &fakeSource{name: "yahoo", series: &domain.OHLCVSeries{Bars: dailyBars(5, 200)}}
	f := newTestFabric(t, primary, backup)

	series, err := f.GetOHLCV(context.Background(), "RELIANCE", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "broker", series.Source)
	assert.Equal(t, "RELIANCE.NS", series.Ticker)
	assert.Zero(t, backup.calls)
}

func TestGetOHLCVFailsOver(t *testing.T) {
	primary := &fakeSource{name: "broker", err: domain.ErrTransient, failFor: 99}
	backup := &fakeSource{name: "yahoo", series: &domain.OHLCVSeries{Bars: dailyBars(5, 200)}}
	f := newTestFabric(t, primary, backup)

	series, err := f.GetOHLCV(context.Background(), "TCS.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "yahoo", series.Source)
	// transient errors are retried before failing over
	assert.Equal(t, maxAttempts, primary.calls)
}

func TestGetOHLCVRetriesTransientThenSucceeds(t *testing.T) {
	flaky := &fakeSource{name: "broker", err: domain.ErrTransient, failFor: 2,
		series: &domain.OHLCVSeries{Bars: dailyBars(5, 100)}}
	f := newTestFabric(t, flaky)

	series, err := f.GetOHLCV(context.Background(), "INFY.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "broker", series.Source)
	assert.Equal(t, 3, flaky.calls)
}

func TestGetOHLCVAuthFailureDisablesSourceUntilRestart(t *testing.T) {
	primary := &fakeSource{name: "broker", err: domain.ErrAuthFailure, failFor: 99}
	backup := &fakeSource{name: "yahoo", series: &domain.OHLCVSeries{Bars: dailyBars(5, 200)}}
	f := newTestFabric(t, primary, backup)

	_, err := f.GetOHLCV(context.Background(), "SBIN.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	// auth failures are not retried
	assert.Equal(t, 1, primary.calls)

	_, err = f.GetOHLCV(context.Background(), "ITC.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "disabled source must not be called again")
	assert.Equal(t, []string{"yahoo"}, f.AvailableSources())
}

func TestGetOHLCVServesStaleCacheWhenAllSourcesFail(t *testing.T) {
	from := time.Now().AddDate(0, 0, -10)
	to := time.Now()

	working := &fakeSource{name: "broker", series: &domain.OHLCVSeries{Bars: dailyBars(5, 100)}}
	f := newTestFabric(t, working)

	_, err := f.GetOHLCV(context.Background(), "WIPRO.NS", domain.Interval1d, from, to)
	require.NoError(t, err)

	// Same window, all sources down, cache expired.
	working.err = domain.ErrTransient
	working.failFor = 99
	working.series = nil
	f.cache.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	series, err := f.GetOHLCV(context.Background(), "WIPRO.NS", domain.Interval1d, from, to)
	require.NoError(t, err)
	assert.True(t, series.IsStale)
	assert.Equal(t, 5, series.Len())
}

func TestGetOHLCVCacheHitSkipsSources(t *testing.T) {
	from := time.Now().AddDate(0, 0, -10)
	to := time.Now()
	src := &fakeSource{name: "broker", series: &domain.OHLCVSeries{Bars: dailyBars(5, 100)}}
	f := newTestFabric(t, src)

	_, err := f.GetOHLCV(context.Background(), "LT.NS", domain.Interval1d, from, to)
	require.NoError(t, err)
	_, err = f.GetOHLCV(context.Background(), "LT.NS", domain.Interval1d, from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestGetOHLCVRejectsNegativePrices(t *testing.T) {
	bad := dailyBars(5, 100)
	bad[2].Close = -10
	primary := &fakeSource{name: "broker", series: &domain.OHLCVSeries{Bars: bad}}
	backup := &fakeSource{name: "yahoo", series: &domain.OHLCVSeries{Bars: dailyBars(5, 200)}}
	f := newTestFabric(t, primary, backup)

	series, err := f.GetOHLCV(context.Background(), "TCS.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "yahoo", series.Source)
}

func TestGetOHLCVDropsInvalidBars(t *testing.T) {
	bars := dailyBars(5, 100)
	bars[1].High = bars[1].Low - 1 // violates high >= low
	src := &fakeSource{name: "broker", series: &domain.OHLCVSeries{Bars: bars}}
	f := newTestFabric(t, src)

	series, err := f.GetOHLCV(context.Background(), "TCS.NS", domain.Interval1d,
		time.Now().AddDate(0, 0, -10), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, series.Len())
}

func TestClampRange(t *testing.T) {
	f := newTestFabric(t)
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	t.Run("future end clamped to now", func(t *testing.T) {
		_, to := f.clampRange("X", domain.Interval1d, now.AddDate(0, 0, -30), now.AddDate(0, 0, 5))
		assert.Equal(t, now, to)
	})

	t.Run("intraday start clamped to history cap", func(t *testing.T) {
		from, _ := f.clampRange("X", domain.Interval5m, now.AddDate(-1, 0, 0), now)
		assert.False(t, from.Before(now.Add(-domain.Interval5m.MaxHistory())))
	})

	t.Run("inverted range falls back to default lookback", func(t *testing.T) {
		from, to := f.clampRange("X", domain.Interval1d, now, now.AddDate(0, 0, -5))
		assert.True(t, from.Before(to))
	})
}

func TestGetQuoteFailover(t *testing.T) {
	primary := &fakeSource{name: "broker", err: domain.ErrAuthFailure, failFor: 99}
	backup := &fakeSource{name: "nse", quote: &domain.Quote{Ticker: "TCS.NS", LastPrice: 4100}}
	f := newTestFabric(t, primary, backup)

	quote, err := f.GetQuote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, "nse", quote.Source)
	assert.Equal(t, 4100.0, quote.LastPrice)
}

func TestGetQuoteServedFromCacheWithinTTL(t *testing.T) {
	src := &fakeSource{name: "broker", quote: &domain.Quote{Ticker: "TCS.NS", LastPrice: 4100}}
	f := newTestFabric(t, src)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return base }

	_, err := f.GetQuote(context.Background(), "TCS.NS")
	require.NoError(t, err)

	quote, err := f.GetQuote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, 4100.0, quote.LastPrice)
	assert.Equal(t, 1, src.calls, "second lookup within the TTL must not hit the source")

	// Past the TTL the source is consulted again.
	f.now = func() time.Time { return base.Add(quoteTTL + time.Second) }
	_, err = f.GetQuote(context.Background(), "TCS.NS")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestGetQuoteAllFail(t *testing.T) {
	src := &fakeSource{name: "broker", err: domain.ErrTransient, failFor: 99}
	f := newTestFabric(t, src)

	_, err := f.GetQuote(context.Background(), "TCS.NS")
	assert.ErrorIs(t, err, domain.ErrNoData)
}
