package upstox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niveshlabs/nivesh/internal/domain"
)

func authedClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/authorization/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "tok",
			"refresh_token": "ref",
		})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient("key", "secret", "http://localhost/cb", zerolog.Nop())
	c.SetBaseURL(srv.URL)
	require.NoError(t, c.Authenticate(context.Background(), "authcode"))
	return c
}

func TestAuthenticateEstablishesSession(t *testing.T) {
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, c.IsConnected())
}

func TestUnauthenticatedCallsFail(t *testing.T) {
	c := NewClient("key", "secret", "", zerolog.Nop())
	_, err := c.GetPositions(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
}

func TestAuthFailureMarksDisconnected(t *testing.T) {
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetPositions(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
	assert.False(t, c.IsConnected())
}

func TestServerErrorIsTransient(t *testing.T) {
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetOrders(context.Background())
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.True(t, c.IsConnected())
}

func TestPlaceOrder(t *testing.T) {
	var got map[string]interface{}
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order/place", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]string{"order_id": "240826000001"},
		})
	})

	orderID, err := c.PlaceOrder(context.Background(), domain.BrokerOrderParams{
		InstrumentKey: "NSE_EQ|INE002A01018",
		Side:          domain.SideBuy,
		Quantity:      10,
		OrderType:     domain.OrderMarket,
		Product:       domain.ProductIntraday,
		Validity:      domain.ValidityDay,
		Tag:           "nivesh",
	})
	require.NoError(t, err)
	assert.Equal(t, "240826000001", orderID)
	assert.Equal(t, "BUY", got["transaction_type"])
	assert.Equal(t, "NSE_EQ|INE002A01018", got["instrument_token"])
}

func TestPlaceOrderValidation(t *testing.T) {
	c := NewClient("key", "secret", "", zerolog.Nop())
	_, err := c.PlaceOrder(context.Background(), domain.BrokerOrderParams{Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestGetHistoricalCandlesOrdering(t *testing.T) {
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Upstream returns newest first.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"candles": [][]interface{}{
					{"2026-08-26T15:30:00+05:30", 102.0, 103.0, 101.0, 102.5, 2000.0},
					{"2026-08-25T15:30:00+05:30", 100.0, 101.0, 99.0, 100.5, 1000.0},
				},
			},
		})
	})

	from := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	candles, err := c.GetHistoricalCandles(context.Background(), "NSE_EQ|X", domain.Interval1d, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].T.Before(candles[1].T), "candles must be oldest first")
	assert.InDelta(t, 100.5, candles[0].Close, 1e-9)
}

func TestGetQuotes(t *testing.T) {
	c := authedClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"NSE_EQ|INE009A01021": map[string]interface{}{
					"last_price": 1501.5,
					"volume":     12345.0,
					"ohlc": map[string]float64{
						"open": 1490, "high": 1505, "low": 1488, "close": 1495,
					},
				},
			},
		})
	})

	quotes, err := c.GetQuotes(context.Background(), []domain.InstrumentKey{"NSE_EQ|INE009A01021"})
	require.NoError(t, err)
	q := quotes["NSE_EQ|INE009A01021"]
	assert.InDelta(t, 1501.5, q.LastPrice, 1e-9)
	assert.InDelta(t, 1490, q.Open, 1e-9)
}
