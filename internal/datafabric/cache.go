package datafabric

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// Cache persists OHLCV series as CSV files with interval-dependent TTLs.
// Entries past their TTL are still readable so the fabric can serve stale
// data when every source is down.
type Cache struct {
	dir string
	mu  sync.Mutex
	log zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "datacache").Logger(),
		now: time.Now,
	}, nil
}

// cacheKey builds a filesystem-safe key from the request parameters.
// Tickers like ^NSEI and RELIANCE.NS are slugged to nsei / reliance-ns.
func cacheKey(ticker string, interval domain.Interval, from, to time.Time) string {
	slug := strings.ToLower(ticker)
	slug = strings.NewReplacer("^", "", ".", "-", "|", "-", "/", "-").Replace(slug)
	return fmt.Sprintf("%s_%s_%s_%s", slug, interval,
		from.Format("20060102"), to.Format("20060102"))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".csv")
}

// Load reads a cached series. The second return reports whether the entry
// is still within its TTL; a stale entry is returned with fresh=false and a
// missing one as (nil, false).
func (c *Cache) Load(key string, interval domain.Interval) (*domain.OHLCVSeries, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	fresh := c.now().Sub(info.ModTime()) <= interval.CacheTTL()

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	series, err := readSeries(f, interval)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cache entry")
		os.Remove(path)
		return nil, false
	}
	return series, fresh
}

// Store writes the series atomically (temp file + rename).
func (c *Cache) Store(key string, series *domain.OHLCVSeries) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeSeries(tmp, series); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

// Purge removes entries older than maxAge regardless of interval, for the
// post-market cleanup job.
func (c *Cache) Purge(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(c.dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}

var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume", "ticker", "source"}

func writeSeries(f *os.File, series *domain.OHLCVSeries) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, bar := range series.Bars {
		row := []string{
			bar.T.Format(time.RFC3339),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatFloat(bar.Volume, 'f', -1, 64),
			series.Ticker,
			series.Source,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readSeries(f *os.File, interval domain.Interval) (*domain.OHLCVSeries, error) {
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("cache entry has no bars")
	}

	series := &domain.OHLCVSeries{Interval: interval}
	for _, row := range rows[1:] {
		if len(row) < 8 {
			return nil, fmt.Errorf("malformed cache row")
		}
		t, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, err
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		series.Bars = append(series.Bars, domain.OHLCVBar{
			T: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
		series.Ticker = row[6]
		series.Source = row[7]
	}
	return series, nil
}
