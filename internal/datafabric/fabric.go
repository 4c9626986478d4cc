// Package datafabric unifies the market-data sources behind a single API
// with failover, retry, validation, and a TTL cache.
package datafabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
	"github.com/niveshlabs/nivesh/internal/instruments"
	"github.com/niveshlabs/nivesh/internal/markethours"
)

// Source is one provider of OHLCV history and quote snapshots. Sources are
// tried in registration order; a source that cannot serve a request returns
// an error and the fabric moves on.
type Source interface {
	Name() string
	FetchOHLCV(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*domain.OHLCVSeries, error)
	FetchQuote(ctx context.Context, ticker string) (*domain.Quote, error)
}

const (
	maxAttempts    = 3
	baseRetryDelay = time.Second
	quoteTTL       = 15 * time.Second
)

type quoteEntry struct {
	quote domain.Quote
	at    time.Time
}

// Fabric is the single entry point for market data. Callers never talk to a
// source directly.
type Fabric struct {
	sources []Source
	cache   *Cache
	hours   *markethours.Service
	log     zerolog.Logger

	mu          sync.Mutex
	unavailable map[string]bool
	quotes      map[string]quoteEntry

	// now and retryDelay are swappable for tests.
	now        func() time.Time
	retryDelay time.Duration
}

// New builds a fabric over the given sources, highest priority first.
func New(sources []Source, cache *Cache, hours *markethours.Service, log zerolog.Logger) *Fabric {
	return &Fabric{
		sources:     sources,
		cache:       cache,
		hours:       hours,
		log:         log.With().Str("component", "datafabric").Logger(),
		unavailable: make(map[string]bool),
		quotes:      make(map[string]quoteEntry),
		now:         time.Now,
		retryDelay:  baseRetryDelay,
	}
}

// markUnavailable takes a source out of rotation until restart. Only hard
// failures (auth denials) trigger this; transient errors do not.
func (f *Fabric) markUnavailable(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.unavailable[name] {
		f.unavailable[name] = true
		f.log.Error().Err(err).Str("source", name).
			Msg("Source marked unavailable until restart")
	}
}

func (f *Fabric) isUnavailable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unavailable[name]
}

// AvailableSources returns the names of sources still in rotation.
func (f *Fabric) AvailableSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, s := range f.sources {
		if !f.unavailable[s.Name()] {
			names = append(names, s.Name())
		}
	}
	return names
}

// clampRange normalizes the requested window: the end never reaches past
// now, the start never reaches past the interval's history cap, and an
// inverted or empty range falls back to the interval's default lookback.
func (f *Fabric) clampRange(ticker string, interval domain.Interval, from, to time.Time) (time.Time, time.Time) {
	origFrom, origTo := from, to
	now := f.now()

	if to.After(now) {
		to = now
	}
	if minFrom := now.Add(-interval.MaxHistory()); from.Before(minFrom) {
		from = minFrom
	}
	if !from.Before(to) {
		from = to.Add(-interval.DefaultLookback())
	}
	if interval.Intraday() && f.hours != nil {
		from, to = f.hours.ClipToSessions(from, to)
	}

	if !from.Equal(origFrom) || !to.Equal(origTo) {
		f.log.Debug().Str("ticker", ticker).Str("interval", string(interval)).
			Time("requested_from", origFrom).Time("requested_to", origTo).
			Time("from", from).Time("to", to).
			Msg("Range adjusted")
	}
	return from, to
}

// fetchWithRetry calls fn up to maxAttempts times with exponential backoff.
// Non-retryable errors (auth, validation) abort immediately.
func (f *Fabric) fetchWithRetry(ctx context.Context, source string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) || attempt == maxAttempts {
			return err
		}
		delay := f.retryDelay << (attempt - 1)
		f.log.Warn().Err(err).Str("source", source).Int("attempt", attempt).
			Dur("retry_in", delay).Msg("Fetch failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// GetOHLCV returns validated bars for the ticker, serving from cache when
// fresh and failing over across sources otherwise. When every source fails
// but a stale cache entry exists, the stale series is returned flagged.
func (f *Fabric) GetOHLCV(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*domain.OHLCVSeries, error) {
	ticker = instruments.Normalize(ticker)
	from, to = f.clampRange(ticker, interval, from, to)

	key := cacheKey(ticker, interval, from, to)
	if f.cache != nil {
		if series, fresh := f.cache.Load(key, interval); fresh {
			f.log.Debug().Str("ticker", ticker).Str("interval", string(interval)).
				Msg("Cache hit")
			return series, nil
		}
	}

	var lastErr error
	for _, src := range f.sources {
		if f.isUnavailable(src.Name()) {
			continue
		}

		var series *domain.OHLCVSeries
		err := f.fetchWithRetry(ctx, src.Name(), func() error {
			var ferr error
			series, ferr = src.FetchOHLCV(ctx, ticker, interval, from, to)
			return ferr
		})
		if err != nil {
			if domain.IsHardFailure(err) {
				f.markUnavailable(src.Name(), err)
			} else {
				f.log.Warn().Err(err).Str("source", src.Name()).Str("ticker", ticker).
					Msg("Source failed, trying next")
			}
			lastErr = err
			continue
		}

		if err := f.validate(series); err != nil {
			f.log.Warn().Err(err).Str("source", src.Name()).Str("ticker", ticker).
				Msg("Source returned unusable data, trying next")
			lastErr = err
			continue
		}

		if f.cache != nil {
			if err := f.cache.Store(key, series); err != nil {
				f.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to write cache")
			}
		}
		return series, nil
	}

	// Degraded mode: a stale cache beats no data at all.
	if f.cache != nil {
		if series, _ := f.cache.Load(key, interval); series != nil {
			series.IsStale = true
			f.log.Warn().Str("ticker", ticker).Str("interval", string(interval)).
				Msg("All sources failed, serving stale cache")
			return series, nil
		}
	}

	if lastErr != nil {
		return nil, domain.NoDataError(ticker, lastErr)
	}
	return nil, domain.NoDataError(ticker, nil)
}

// GetQuote returns a live snapshot, failing over across sources. A quote
// fetched within the last quoteTTL is served from memory so a burst of
// lookups during a scan does not hammer the providers.
func (f *Fabric) GetQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	ticker = instruments.Normalize(ticker)

	f.mu.Lock()
	if e, ok := f.quotes[ticker]; ok && f.now().Sub(e.at) < quoteTTL {
		f.mu.Unlock()
		q := e.quote
		return &q, nil
	}
	f.mu.Unlock()

	var lastErr error
	for _, src := range f.sources {
		if f.isUnavailable(src.Name()) {
			continue
		}

		var quote *domain.Quote
		err := f.fetchWithRetry(ctx, src.Name(), func() error {
			var ferr error
			quote, ferr = src.FetchQuote(ctx, ticker)
			return ferr
		})
		if err != nil {
			if domain.IsHardFailure(err) {
				f.markUnavailable(src.Name(), err)
			}
			lastErr = err
			continue
		}
		if quote.LastPrice <= 0 {
			lastErr = fmt.Errorf("%w: non-positive last price from %s", domain.ErrValidationFailed, src.Name())
			continue
		}

		f.mu.Lock()
		f.quotes[ticker] = quoteEntry{quote: *quote, at: f.now()}
		f.mu.Unlock()
		return quote, nil
	}

	if lastErr != nil {
		return nil, domain.NoDataError(ticker, lastErr)
	}
	return nil, domain.NoDataError(ticker, nil)
}
