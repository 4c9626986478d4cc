package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/domain"
)

func fixtureFrom() time.Time { return time.Unix(1735500000, 0) }
func fixtureTo() time.Time   { return time.Unix(1735800000, 0) }

const chartFixture = `{
  "chart": {
    "result": [{
      "meta": {"regularMarketPrice": 2510.5, "chartPreviousClose": 2480.0},
      "timestamp": [1735534800, 1735621200, 1735707600],
      "indicators": {"quote": [{
        "open":   [2480.0, 2495.0, null],
        "high":   [2500.0, 2515.0, null],
        "low":    [2470.0, 2490.0, null],
        "close":  [2495.0, 2510.5, null],
        "volume": [1200000, 1350000, null]
      }]}
    }],
    "error": null
  }
}`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestFetchOHLCVSkipsNullRows(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/RELIANCE.NS")
		w.Write([]byte(chartFixture))
	})

	series, err := c.FetchOHLCV(context.Background(), "RELIANCE.NS", domain.Interval1d, fixtureFrom(), fixtureTo())
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, "yahoo", series.Source)
	assert.Equal(t, 2495.0, series.Bars[0].Close)
	assert.True(t, series.Bars[0].T.Before(series.Bars[1].T))
}

func TestFetchOHLCVNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchOHLCV(context.Background(), "BOGUS.NS", domain.Interval1d, fixtureFrom(), fixtureTo())
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestFetchOHLCVRateLimitedIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchOHLCV(context.Background(), "TCS.NS", domain.Interval1d, fixtureFrom(), fixtureTo())
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestFetchQuoteDerivedFromDailyBars(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chartFixture))
	})

	quote, err := c.FetchQuote(context.Background(), "RELIANCE.NS")
	require.NoError(t, err)
	assert.Equal(t, 2510.5, quote.LastPrice)
	assert.Equal(t, 2495.0, quote.PrevClose)
	assert.InDelta(t, 0.621, quote.ChangePercent, 0.001)
}
