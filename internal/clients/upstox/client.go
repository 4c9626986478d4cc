// Package upstox provides client functionality for the Upstox trading API.
package upstox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niveshlabs/nivesh/internal/domain"
)

const (
	defaultBaseURL = "https://api.upstox.com/v2"
	requestTimeout = 15 * time.Second
)

// Client talks to the Upstox REST API. It implements domain.BrokerClient.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	redirect   string
	httpClient *http.Client
	log        zerolog.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	connected    bool
}

// NewClient creates a new Upstox client. Credentials may be empty; every
// authenticated call then fails with domain.ErrAuthFailure until
// Authenticate succeeds.
func NewClient(apiKey, apiSecret, redirect string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		redirect:   redirect,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("client", "upstox").Logger(),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// IsConnected reports whether the client holds a live session token.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// AccessToken returns the current session token, empty when disconnected.
// The streaming feed authenticates with it.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Authenticate exchanges an OAuth auth code for a session token.
func (c *Client) Authenticate(ctx context.Context, authCode string) error {
	form := url.Values{
		"code":          {authCode},
		"client_id":     {c.apiKey},
		"client_secret": {c.apiSecret},
		"redirect_uri":  {c.redirect},
		"grant_type":    {"authorization_code"},
	}
	return c.tokenRequest(ctx, form)
}

// RefreshSession renews the access token from the stored refresh token.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refreshToken
	c.mu.RUnlock()
	if refresh == "" {
		return fmt.Errorf("%w: no refresh token", domain.ErrAuthFailure)
	}
	form := url.Values{
		"refresh_token": {refresh},
		"client_id":     {c.apiKey},
		"client_secret": {c.apiSecret},
		"grant_type":    {"refresh_token"},
	}
	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.markDisconnected()
		return fmt.Errorf("%w: token request returned %d", domain.ErrAuthFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token request returned %d", domain.ErrTransient, resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", domain.ErrAuthFailure)
	}

	c.mu.Lock()
	c.accessToken = body.AccessToken
	if body.RefreshToken != "" {
		c.refreshToken = body.RefreshToken
	}
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Msg("Broker session established")
	return nil
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// get performs an authenticated GET and decodes the "data" envelope into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token == "" {
		return fmt.Errorf("%w: not authenticated", domain.ErrAuthFailure)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.markDisconnected()
		return fmt.Errorf("%w: %s returned %d", domain.ErrAuthFailure, path, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", domain.ErrTransient, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

// GetProfile fetches the authenticated account profile.
func (c *Client) GetProfile(ctx context.Context) (*domain.BrokerProfile, error) {
	var data struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Email    string `json:"email"`
		Broker   string `json:"broker"`
	}
	if err := c.get(ctx, "/user/profile", nil, &data); err != nil {
		return nil, err
	}
	return &domain.BrokerProfile{
		UserID:   data.UserID,
		UserName: data.UserName,
		Email:    data.Email,
		Broker:   data.Broker,
	}, nil
}

// GetFunds fetches the available equity margin. The daemon uses it as the
// live account balance for risk sizing.
func (c *Client) GetFunds(ctx context.Context) (float64, error) {
	var data struct {
		Equity struct {
			AvailableMargin float64 `json:"available_margin"`
		} `json:"equity"`
	}
	query := url.Values{"segment": {"SEC"}}
	if err := c.get(ctx, "/user/get-funds-and-margin", query, &data); err != nil {
		return 0, err
	}
	return data.Equity.AvailableMargin, nil
}

// GetHoldings fetches delivery holdings.
func (c *Client) GetHoldings(ctx context.Context) ([]domain.BrokerHolding, error) {
	var data []struct {
		InstrumentToken string  `json:"instrument_token"`
		TradingSymbol   string  `json:"tradingsymbol"`
		ISIN            string  `json:"isin"`
		Quantity        int64   `json:"quantity"`
		AveragePrice    float64 `json:"average_price"`
		LastPrice       float64 `json:"last_price"`
	}
	if err := c.get(ctx, "/portfolio/long-term-holdings", nil, &data); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerHolding, 0, len(data))
	for _, h := range data {
		out = append(out, domain.BrokerHolding{
			InstrumentKey: domain.InstrumentKey(h.InstrumentToken),
			Symbol:        h.TradingSymbol,
			ISIN:          h.ISIN,
			Quantity:      h.Quantity,
			AveragePrice:  h.AveragePrice,
			LastPrice:     h.LastPrice,
		})
	}
	return out, nil
}

// GetPositions fetches open intraday and carried positions.
func (c *Client) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var data []struct {
		InstrumentToken string  `json:"instrument_token"`
		TradingSymbol   string  `json:"tradingsymbol"`
		Quantity        int64   `json:"quantity"`
		AveragePrice    float64 `json:"average_price"`
		LastPrice       float64 `json:"last_price"`
		Product         string  `json:"product"`
		PnL             float64 `json:"pnl"`
	}
	if err := c.get(ctx, "/portfolio/short-term-positions", nil, &data); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(data))
	for _, p := range data {
		out = append(out, domain.BrokerPosition{
			InstrumentKey: domain.InstrumentKey(p.InstrumentToken),
			Symbol:        p.TradingSymbol,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
			Product:       domain.Product(p.Product),
			PnL:           p.PnL,
		})
	}
	return out, nil
}

// GetOrders fetches the order book.
func (c *Client) GetOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	var data []struct {
		OrderID         string  `json:"order_id"`
		InstrumentToken string  `json:"instrument_token"`
		Side            string  `json:"transaction_type"`
		Quantity        int64   `json:"quantity"`
		FilledQuantity  int64   `json:"filled_quantity"`
		Price           float64 `json:"price"`
		Status          string  `json:"status"`
		OrderTimestamp  string  `json:"order_timestamp"`
	}
	if err := c.get(ctx, "/order/retrieve-all", nil, &data); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerOrder, 0, len(data))
	for _, o := range data {
		placedAt, _ := time.Parse("2006-01-02 15:04:05", o.OrderTimestamp)
		out = append(out, domain.BrokerOrder{
			OrderID:       o.OrderID,
			InstrumentKey: domain.InstrumentKey(o.InstrumentToken),
			Side:          domain.Side(o.Side),
			Quantity:      o.Quantity,
			FilledQty:     o.FilledQuantity,
			Price:         o.Price,
			Status:        o.Status,
			PlacedAt:      placedAt,
		})
	}
	return out, nil
}
