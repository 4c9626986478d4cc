// Package yahoo provides the last-resort historical data source. It is
// keyless, rate-limited, and serves both .NS/.BO equities and indices.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/niveshlabs/nivesh/internal/domain"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client fetches OHLCV history and quotes from the chart API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a fallback data client throttled to 2 requests/second;
// the upstream bans unauthenticated bursts.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// Name identifies the source in fabric logs and quote flags.
func (c *Client) Name() string { return "yahoo" }

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

func yahooInterval(interval domain.Interval) string {
	switch interval {
	case domain.Interval5m:
		return "5m"
	case domain.Interval15m:
		return "15m"
	case domain.Interval1h:
		return "60m"
	default:
		return "1d"
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*chartResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("interval", yahooInterval(interval))
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("events", "div,splits")

	u := c.baseURL + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NoDataError(ticker, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: chart api returned %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("chart api returned %d for %s", resp.StatusCode, ticker)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if body.Chart.Error != nil {
		return nil, domain.NoDataError(ticker, fmt.Errorf("%s: %s", body.Chart.Error.Code, body.Chart.Error.Description))
	}
	if len(body.Chart.Result) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}
	return &body, nil
}

// FetchOHLCV returns bars in ascending time order. Rows with any missing
// OHLC value are skipped; missing volume is treated as zero.
func (c *Client) FetchOHLCV(ctx context.Context, ticker string, interval domain.Interval, from, to time.Time) (*domain.OHLCVSeries, error) {
	body, err := c.fetchChart(ctx, ticker, interval, from, to)
	if err != nil {
		return nil, err
	}

	result := body.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}
	q := result.Indicators.Quote[0]

	bars := make([]domain.OHLCVBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		vol := 0.0
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		bars = append(bars, domain.OHLCVBar{
			T:      time.Unix(ts, 0),
			Open:   *q.Open[i],
			High:   *q.High[i],
			Low:    *q.Low[i],
			Close:  *q.Close[i],
			Volume: vol,
		})
	}
	if len(bars) == 0 {
		return nil, domain.NoDataError(ticker, nil)
	}
	return &domain.OHLCVSeries{
		Ticker:   ticker,
		Interval: interval,
		Bars:     bars,
		Source:   c.Name(),
	}, nil
}

// FetchQuote derives a snapshot from the most recent daily bars.
func (c *Client) FetchQuote(ctx context.Context, ticker string) (*domain.Quote, error) {
	now := time.Now()
	series, err := c.FetchOHLCV(ctx, ticker, domain.Interval1d, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	last, ok := series.Last()
	if !ok {
		return nil, domain.NoDataError(ticker, nil)
	}

	prevClose := last.Open
	if series.Len() >= 2 {
		prevClose = series.Bars[series.Len()-2].Close
	}
	change := last.Close - prevClose
	changePct := 0.0
	if prevClose > 0 {
		changePct = change / prevClose * 100
	}
	return &domain.Quote{
		Ticker:        ticker,
		LastPrice:     last.Close,
		Open:          last.Open,
		High:          last.High,
		Low:           last.Low,
		PrevClose:     prevClose,
		Volume:        last.Volume,
		Change:        change,
		ChangePercent: changePct,
		Source:        c.Name(),
		Timestamp:     last.T,
	}, nil
}
