package upstox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// PlaceOrder submits a new order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, params domain.BrokerOrderParams) (string, error) {
	if params.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", domain.ErrValidationFailed)
	}
	if params.InstrumentKey == "" {
		return "", fmt.Errorf("%w: instrument key required", domain.ErrValidationFailed)
	}

	payload := map[string]interface{}{
		"instrument_token": string(params.InstrumentKey),
		"transaction_type": string(params.Side),
		"quantity":         params.Quantity,
		"order_type":       string(params.OrderType),
		"product":          string(params.Product),
		"validity":         string(params.Validity),
		"price":            params.Price,
		"trigger_price":    params.TriggerPrice,
		"tag":              params.Tag,
		"is_amo":           false,
	}

	c.log.Debug().
		Str("instrument", string(params.InstrumentKey)).
		Str("side", string(params.Side)).
		Int64("quantity", params.Quantity).
		Str("order_type", string(params.OrderType)).
		Msg("Placing order")

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, "POST", "/order/place", nil, payload, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("broker returned empty order id")
	}
	return data.OrderID, nil
}

// ModifyOrder updates price/trigger/quantity on a pending order.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, params domain.BrokerOrderParams) error {
	payload := map[string]interface{}{
		"order_id":      orderID,
		"quantity":      params.Quantity,
		"order_type":    string(params.OrderType),
		"validity":      string(params.Validity),
		"price":         params.Price,
		"trigger_price": params.TriggerPrice,
	}
	return c.do(ctx, "PUT", "/order/modify", nil, payload, nil)
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	query := url.Values{"order_id": {orderID}}
	return c.do(ctx, "DELETE", "/order/cancel", query, nil, nil)
}

// GetQuotes fetches full-quote snapshots for up to 500 instrument keys.
func (c *Client) GetQuotes(ctx context.Context, keys []domain.InstrumentKey) (map[domain.InstrumentKey]domain.BrokerQuote, error) {
	if len(keys) == 0 {
		return map[domain.InstrumentKey]domain.BrokerQuote{}, nil
	}
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = string(k)
	}
	query := url.Values{"instrument_key": {strings.Join(strKeys, ",")}}

	var data map[string]struct {
		LastPrice float64 `json:"last_price"`
		Volume    float64 `json:"volume"`
		OHLC      struct {
			Open  float64 `json:"open"`
			High  float64 `json:"high"`
			Low   float64 `json:"low"`
			Close float64 `json:"close"`
		} `json:"ohlc"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.get(ctx, "/market-quote/quotes", query, &data); err != nil {
		return nil, err
	}

	out := make(map[domain.InstrumentKey]domain.BrokerQuote, len(data))
	for key, q := range data {
		ts, _ := time.Parse(time.RFC3339, q.Timestamp)
		out[domain.InstrumentKey(key)] = domain.BrokerQuote{
			InstrumentKey: domain.InstrumentKey(key),
			LastPrice:     q.LastPrice,
			Open:          q.OHLC.Open,
			High:          q.OHLC.High,
			Low:           q.OHLC.Low,
			Close:         q.OHLC.Close,
			PrevClose:     q.OHLC.Close,
			Volume:        q.Volume,
			Timestamp:     ts,
		}
	}
	return out, nil
}

// intervalPath maps a domain interval onto the candle API path segments.
func intervalPath(iv domain.Interval) (unit string, value string, err error) {
	switch iv {
	case domain.Interval1m:
		return "minutes", "1", nil
	case domain.Interval5m:
		return "minutes", "5", nil
	case domain.Interval15m:
		return "minutes", "15", nil
	case domain.Interval30m:
		return "minutes", "30", nil
	case domain.Interval1h:
		return "hours", "1", nil
	case domain.Interval1d:
		return "days", "1", nil
	case domain.Interval1wk:
		return "weeks", "1", nil
	case domain.Interval1mo:
		return "months", "1", nil
	}
	return "", "", fmt.Errorf("unsupported candle interval %q", iv)
}

// GetHistoricalCandles fetches OHLCV candles. Upstream rows arrive newest
// first; the result is returned oldest first.
func (c *Client) GetHistoricalCandles(ctx context.Context, key domain.InstrumentKey, interval domain.Interval, from, to time.Time) ([]domain.BrokerCandle, error) {
	unit, value, err := intervalPath(interval)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/historical-candle/%s/%s/%s/%s/%s",
		url.PathEscape(string(key)), unit, value,
		to.Format("2006-01-02"), from.Format("2006-01-02"))

	var data struct {
		Candles [][]interface{} `json:"candles"`
	}
	if err := c.get(ctx, path, nil, &data); err != nil {
		return nil, err
	}

	out := make([]domain.BrokerCandle, 0, len(data.Candles))
	for i := len(data.Candles) - 1; i >= 0; i-- {
		row := data.Candles[i]
		if len(row) < 6 {
			continue
		}
		tsStr, _ := row[0].(string)
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			continue
		}
		out = append(out, domain.BrokerCandle{
			T:      ts,
			Open:   asFloat(row[1]),
			High:   asFloat(row[2]),
			Low:    asFloat(row[3]),
			Close:  asFloat(row[4]),
			Volume: asFloat(row[5]),
		})
	}
	return out, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
