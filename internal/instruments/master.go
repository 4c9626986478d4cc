// Package instruments resolves user-facing tickers to broker-native
// instrument keys via a cached instrument master.
package instruments

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// masterTTL is how long a downloaded instrument master stays fresh.
const masterTTL = 24 * time.Hour

// Instrument is one row of the instrument master.
type Instrument struct {
	TradingSymbol string
	InstrumentKey domain.InstrumentKey
	ISIN          string
	Name          string
	Exchange      string
	LotSize       int64
}

// Master downloads, caches, and indexes the per-exchange instrument CSVs.
type Master struct {
	client   *http.Client
	cacheDir string
	urls     map[string]string // exchange -> CSV URL
	log      zerolog.Logger

	mu       sync.RWMutex
	byTicker map[string]Instrument
	loadedAt time.Time
}

// NewMaster creates an instrument master. urls maps exchange code ("NSE",
// "BSE") to the CSV download URL; empty urls fall back to the builtin map
// only.
func NewMaster(cacheDir string, urls map[string]string, log zerolog.Logger) *Master {
	return &Master{
		client:   &http.Client{Timeout: 30 * time.Second},
		cacheDir: cacheDir,
		urls:     urls,
		log:      log.With().Str("component", "instrument_master").Logger(),
		byTicker: make(map[string]Instrument),
	}
}

// Resolve maps a ticker to its broker instrument key. Ticker variations are
// normalized first (NIFTY, ^NSEI and NIFTY50 all resolve to the Nifty-50
// index key).
func (m *Master) Resolve(ctx context.Context, ticker string) (Instrument, error) {
	normalized := Normalize(ticker)

	m.mu.RLock()
	fresh := !m.loadedAt.IsZero() && time.Since(m.loadedAt) < masterTTL
	inst, ok := m.byTicker[normalized]
	m.mu.RUnlock()

	if ok && fresh {
		return inst, nil
	}

	if !fresh {
		if err := m.refresh(ctx); err != nil {
			m.log.Warn().Err(err).Msg("Instrument master refresh failed, using fallback map")
		}
	}

	m.mu.RLock()
	inst, ok = m.byTicker[normalized]
	m.mu.RUnlock()
	if ok {
		return inst, nil
	}

	if inst, ok = fallbackInstruments[normalized]; ok {
		return inst, nil
	}
	return Instrument{}, fmt.Errorf("instrument not found for ticker %q", ticker)
}

// refresh loads the master from the on-disk cache when fresh, otherwise
// downloads each exchange CSV and rewrites the cache.
func (m *Master) refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loadedAt.IsZero() && time.Since(m.loadedAt) < masterTTL {
		return nil
	}

	merged := make(map[string]Instrument)
	for ticker, inst := range fallbackInstruments {
		merged[ticker] = inst
	}

	var lastErr error
	for exchange, url := range m.urls {
		rows, err := m.loadExchange(ctx, exchange, url)
		if err != nil {
			lastErr = err
			m.log.Warn().Err(err).Str("exchange", exchange).Msg("Failed to load instrument master")
			continue
		}
		for _, inst := range rows {
			merged[tickerFor(inst)] = inst
		}
	}

	if len(merged) > len(fallbackInstruments) || lastErr == nil {
		m.byTicker = merged
		m.loadedAt = time.Now()
	}
	return lastErr
}

// loadExchange serves one exchange CSV cache-first.
func (m *Master) loadExchange(ctx context.Context, exchange, url string) ([]Instrument, error) {
	cachePath := filepath.Join(m.cacheDir, fmt.Sprintf("instruments_%s.csv", strings.ToLower(exchange)))

	if info, err := os.Stat(cachePath); err == nil && time.Since(info.ModTime()) < masterTTL {
		f, err := os.Open(cachePath)
		if err == nil {
			defer f.Close()
			return parseCSV(f, exchange)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: instrument master download denied (%d)", domain.ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: instrument master download returned %d", domain.ErrTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	if err := os.MkdirAll(m.cacheDir, 0o755); err == nil {
		if err := os.WriteFile(cachePath, body, 0o644); err != nil {
			m.log.Warn().Err(err).Msg("Failed to cache instrument master")
		}
	}

	return parseCSV(strings.NewReader(string(body)), exchange)
}

// parseCSV reads an instrument master CSV. Expected columns include
// tradingsymbol, instrument_key, isin, name; extra columns are ignored.
func parseCSV(r io.Reader, exchange string) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read instrument CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"tradingsymbol", "instrument_key"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instrument CSV missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var out []Instrument
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read instrument CSV row: %w", err)
		}
		symbol := field(row, "tradingsymbol")
		key := field(row, "instrument_key")
		if symbol == "" || key == "" {
			continue
		}
		out = append(out, Instrument{
			TradingSymbol: symbol,
			InstrumentKey: domain.InstrumentKey(key),
			ISIN:          field(row, "isin"),
			Name:          field(row, "name"),
			Exchange:      exchange,
			LotSize:       1,
		})
	}
	return out, nil
}

// tickerFor derives the user-facing ticker for an instrument row.
func tickerFor(inst Instrument) string {
	switch inst.Exchange {
	case "BSE":
		return inst.TradingSymbol + ".BO"
	default:
		return inst.TradingSymbol + ".NS"
	}
}
