// Package nseapi provides a market-data client for the NSE public API.
package nseapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/niveshlabs/nivesh/internal/domain"
)

const defaultBaseURL = "https://www.nseindia.com"

// Client fetches quotes and intraday charts from the exchange API. The API
// requires a browser-like session cookie which is primed on first use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates an NSE API client. The exchange throttles aggressively,
// so requests are limited to ~3/second.
func NewClient(log zerolog.Logger) *Client {
	jar := newCookieJar()
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
		limiter: rate.NewLimiter(rate.Limit(3), 3),
		log:     log.With().Str("client", "nseapi").Logger(),
	}
}

// Name identifies the source in fabric logs and quote flags.
func (c *Client) Name() string { return "nse" }

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// symbolFor strips the exchange suffix; the NSE API wants the bare symbol.
func symbolFor(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if strings.HasPrefix(t, "^") {
		return "", fmt.Errorf("%w: nse api does not serve index %q", domain.ErrNoData, ticker)
	}
	if strings.HasSuffix(t, ".BO") {
		return "", fmt.Errorf("%w: nse api does not serve BSE symbol %q", domain.ErrNoData, ticker)
	}
	return strings.TrimSuffix(t, ".NS"), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	// The exchange rejects requests without browser headers.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: nse api returned %d", domain.ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: nse api returned %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("nse api returned %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode nse response: %w", err)
	}
	return nil
}

// FetchQuote returns a snapshot for an NSE equity.
func (c *Client) FetchQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	symbol, err := symbolFor(ticker)
	if err != nil {
		return nil, err
	}

	var body struct {
		PriceInfo struct {
			LastPrice     float64 `json:"lastPrice"`
			Open          float64 `json:"open"`
			Close         float64 `json:"close"`
			PreviousClose float64 `json:"previousClose"`
			IntraDayHighLow struct {
				Max float64 `json:"max"`
				Min float64 `json:"min"`
			} `json:"intraDayHighLow"`
		} `json:"priceInfo"`
		SecurityWiseDP struct {
			QuantityTraded float64 `json:"quantityTraded"`
		} `json:"securityWiseDP"`
	}
	if err := c.getJSON(ctx, "/api/quote-equity?symbol="+symbol, &body); err != nil {
		return nil, err
	}
	if body.PriceInfo.LastPrice <= 0 {
		return nil, domain.NoDataError(ticker, nil)
	}

	p := body.PriceInfo
	change := p.LastPrice - p.PreviousClose
	changePct := 0.0
	if p.PreviousClose > 0 {
		changePct = change / p.PreviousClose * 100
	}
	return &domain.Quote{
		Ticker:        ticker,
		LastPrice:     p.LastPrice,
		Open:          p.Open,
		High:          p.IntraDayHighLow.Max,
		Low:           p.IntraDayHighLow.Min,
		PrevClose:     p.PreviousClose,
		Volume:        body.SecurityWiseDP.QuantityTraded,
		Change:        change,
		ChangePercent: changePct,
		Source:        c.Name(),
		Timestamp:     time.Now(),
	}, nil
}

// FetchOHLCV returns intraday bars from the chart endpoint. The exchange
// serves only the current session at minute granularity; coarser intraday
// intervals are downsampled from it. Daily history is not served here.
func (c *Client) FetchOHLCV(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*domain.OHLCVSeries, error) {
	if !interval.Intraday() {
		return nil, fmt.Errorf("%w: nse api serves intraday intervals only", domain.ErrNoData)
	}
	symbol, err := symbolFor(ticker)
	if err != nil {
		return nil, err
	}

	var body struct {
		GraphData [][]float64 `json:"grapthData"`
	}
	if err := c.getJSON(ctx, "/api/chart-databyindex?index="+symbol+"EQN", &body); err != nil {
		return nil, err
	}
	if len(body.GraphData) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}

	bars := resampleTicks(body.GraphData, interval)
	filtered := bars[:0]
	for _, b := range bars {
		if !b.T.Before(from) && !b.T.After(to) {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}
	return &domain.OHLCVSeries{
		Ticker:   ticker,
		Interval: interval,
		Bars:     filtered,
		Source:   c.Name(),
	}, nil
}

// resampleTicks folds (ts-millis, price) points into OHLC bars of the
// requested width. The chart endpoint carries no per-tick volume.
func resampleTicks(points [][]float64, interval domain.Interval) []domain.OHLCVBar {
	width := interval.Duration()
	var bars []domain.OHLCVBar
	var cur *domain.OHLCVBar
	var bucket int64

	for _, pt := range points {
		if len(pt) < 2 {
			continue
		}
		ts := time.UnixMilli(int64(pt[0]))
		price := pt[1]
		if price <= 0 {
			continue
		}
		b := ts.UnixNano() / int64(width)
		if cur == nil || b != bucket {
			if cur != nil {
				bars = append(bars, *cur)
			}
			end := time.Unix(0, (b+1)*int64(width))
			cur = &domain.OHLCVBar{T: end, Open: price, High: price, Low: price, Close: price}
			bucket = b
			continue
		}
		if price > cur.High {
			cur.High = price
		}
		if price < cur.Low {
			cur.Low = price
		}
		cur.Close = price
	}
	if cur != nil {
		bars = append(bars, *cur)
	}
	return bars
}
