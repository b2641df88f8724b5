// Package rest implements the live venue adapter for the broker port.
//
// The REST client handles market data and order management:
//   - Quote:       GET  /data/quotes     — batch snapshots, up to 50 symbols
//   - Depth:       GET  /data/depth      — five-level book
//   - History:     GET  /data/history    — OHLCV bars
//   - OptionChain: GET  /data/optionchain
//   - PlaceOrder:  POST /orders          — single order, client-tag idempotent
//   - ModifyOrder: PATCH /orders/{id}
//   - CancelOrder: DELETE /orders/{id}
//   - Positions:   GET  /positions       — reconciliation truth
//   - Holdings:    GET  /holdings        — demat delivery positions
//   - Orders:      GET  /orders          — open order book
//   - Tradebook:   GET  /tradebook       — the day's fills
//   - Funds:       GET  /funds           — account money picture
//   - Margin:      POST /margin          — pre-trade affordability, batched
//
// Every request is paced through the shared Pacer, automatically retried on
// 5xx, and authenticated with the token manager's current access token. The
// companion stream (stream.go) delivers order updates and ticks over
// WebSocket.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"intradesk/internal/auth"
	"intradesk/internal/broker"
	"intradesk/pkg/types"
)

// Options configures the live adapter.
type Options struct {
	BaseURL string
	WSURL   string
	DryRun  bool // mutating calls return fake success without HTTP
	Timeout time.Duration
}

// Client is the live venue adapter. It implements broker.Broker.
type Client struct {
	http   *resty.Client
	auth   *auth.Manager
	pacer  *broker.Pacer
	tags   *broker.TagCache
	stream *Stream
	dryRun bool
	logger *slog.Logger
}

// New creates a live adapter with pacing and retry wired in.
func New(opts Options, authMgr *auth.Manager, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   authMgr,
		pacer:  broker.NewPacer(),
		tags:   broker.NewTagCache(broker.DefaultIdempotencyWindow, nil),
		stream: NewStream(opts.WSURL, authMgr, logger),
		dryRun: opts.DryRun,
		logger: logger.With("component", "broker_rest"),
	}
}

// Stream exposes the WebSocket feed so the engine can run it.
func (c *Client) Stream() *Stream { return c.stream }

// venueResponse is the envelope every venue endpoint wraps its payload in.
type venueResponse struct {
	Status  string `json:"s"` // "ok" or "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// request performs one authenticated call and maps venue failures onto the
// typed taxonomy.
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", token)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return c.mapStatus(resp, method, path)
}

func (c *Client) mapStatus(resp *resty.Response, method, path string) error {
	switch {
	case resp.StatusCode() == http.StatusOK:
		return nil
	case resp.StatusCode() == http.StatusUnauthorized:
		c.auth.Invalidate()
		return fmt.Errorf("%s %s: %w", method, path, types.ErrAuthExpired)
	case resp.StatusCode() == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header().Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &types.RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode() == http.StatusBadRequest && strings.Contains(resp.String(), "invalid symbol"):
		return fmt.Errorf("%s %s: %w", method, path, types.ErrInvalidSymbol)
	default:
		return &types.UpstreamError{Status: resp.StatusCode(), Message: resp.String()}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Quote fetches snapshots, transparently chunking universes larger than
// the venue's 50-symbol batch limit.
func (c *Client) Quote(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	out := make(map[string]types.Quote, len(symbols))
	for _, batch := range broker.ChunkSymbols(symbols, broker.QuoteBatchLimit) {
		var result struct {
			venueResponse
			Quotes []types.Quote `json:"d"`
		}
		path := "/data/quotes?symbols=" + strings.Join(batch, ",")
		if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		for _, q := range result.Quotes {
			out[q.Symbol] = q
		}
	}
	return out, nil
}

// Depth fetches the five-level book for one symbol.
func (c *Client) Depth(ctx context.Context, symbol string) (*types.Depth, error) {
	var result struct {
		venueResponse
		Depth types.Depth `json:"d"`
	}
	path := "/data/depth?symbol=" + symbol
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Depth, nil
}

// History fetches OHLCV bars, oldest first.
func (c *Client) History(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]types.Candle, error) {
	var result struct {
		venueResponse
		Candles []types.Candle `json:"candles"`
	}
	path := fmt.Sprintf("/data/history?symbol=%s&resolution=%s&from=%d&to=%d",
		symbol, interval, from.Unix(), to.Unix())
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Candles, nil
}

// OptionChain fetches the chain for an underlying and expiry.
func (c *Client) OptionChain(ctx context.Context, underlying, expiry string) (*types.OptionChain, error) {
	var result struct {
		venueResponse
		Chain types.OptionChain `json:"d"`
	}
	path := fmt.Sprintf("/data/optionchain?symbol=%s&expiry=%s", underlying, expiry)
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result.Chain, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// PlaceOrder submits one order. A duplicate client tag inside the
// idempotency window returns the original order ID without a second
// submission.
func (c *Client) PlaceOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if id, dup := c.tags.Check(intent.ClientTag); dup {
		c.logger.Warn("duplicate order intent dropped", "tag", intent.ClientTag, "order_id", id)
		return id, nil
	}
	if c.dryRun {
		id := "dry-run-" + uuid.NewString()[:8]
		c.logger.Info("DRY-RUN: would place order",
			"symbol", intent.Symbol, "direction", intent.Direction, "qty", intent.Quantity, "tag", intent.ClientTag)
		c.tags.Record(intent.ClientTag, id)
		return id, nil
	}

	var result struct {
		venueResponse
		OrderID string `json:"id"`
	}
	if err := c.request(ctx, http.MethodPost, "/orders", intent, &result); err != nil {
		return "", err
	}
	if result.Status == "error" {
		return "", &types.UpstreamError{Status: http.StatusOK, Code: result.Code, Message: result.Message}
	}
	c.tags.Record(intent.ClientTag, result.OrderID)
	c.logger.Info("order placed", "order_id", result.OrderID, "symbol", intent.Symbol, "tag", intent.ClientTag)
	return result.OrderID, nil
}

// ModifyOrder adjusts a resting order. Zero values leave fields unchanged.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, trigger float64, qty int) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would modify order", "order_id", orderID, "price", price, "trigger", trigger, "qty", qty)
		return nil
	}
	body := map[string]any{}
	if price != 0 {
		body["limit_price"] = price
	}
	if trigger != 0 {
		body["trigger_price"] = trigger
	}
	if qty != 0 {
		body["quantity"] = qty
	}
	var result venueResponse
	if err := c.request(ctx, http.MethodPatch, "/orders/"+orderID, body, &result); err != nil {
		return err
	}
	if result.Status == "error" {
		return &types.UpstreamError{Status: http.StatusOK, Code: result.Code, Message: result.Message}
	}
	return nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	var result venueResponse
	if err := c.request(ctx, http.MethodDelete, "/orders/"+orderID, nil, &result); err != nil {
		return err
	}
	if result.Status == "error" {
		if result.Code == "order_not_found" {
			return types.ErrOrderNotFound
		}
		return &types.UpstreamError{Status: http.StatusOK, Code: result.Code, Message: result.Message}
	}
	return nil
}

// Order fetches the current state of one order.
func (c *Client) Order(ctx context.Context, orderID string) (*types.OrderUpdate, error) {
	var result struct {
		venueResponse
		Order types.OrderUpdate `json:"d"`
	}
	if err := c.request(ctx, http.MethodGet, "/orders/"+orderID, nil, &result); err != nil {
		return nil, err
	}
	if result.Status == "error" {
		return nil, types.ErrOrderNotFound
	}
	return &result.Order, nil
}

// Positions fetches the venue's net positions.
func (c *Client) Positions(ctx context.Context) ([]types.BrokerPosition, error) {
	var result struct {
		venueResponse
		Positions []types.BrokerPosition `json:"netPositions"`
	}
	if err := c.request(ctx, http.MethodGet, "/positions", nil, &result); err != nil {
		return nil, err
	}
	return result.Positions, nil
}

// Holdings fetches the demat delivery positions.
func (c *Client) Holdings(ctx context.Context) ([]types.Holding, error) {
	var result struct {
		venueResponse
		Holdings []types.Holding `json:"holdings"`
	}
	if err := c.request(ctx, http.MethodGet, "/holdings", nil, &result); err != nil {
		return nil, err
	}
	return result.Holdings, nil
}

// Orders fetches the currently open orders.
func (c *Client) Orders(ctx context.Context) ([]types.OrderUpdate, error) {
	var result struct {
		venueResponse
		Orders []types.OrderUpdate `json:"orderBook"`
	}
	if err := c.request(ctx, http.MethodGet, "/orders", nil, &result); err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// Tradebook fetches the day's fills.
func (c *Client) Tradebook(ctx context.Context) ([]types.Execution, error) {
	var result struct {
		venueResponse
		Fills []types.Execution `json:"tradeBook"`
	}
	if err := c.request(ctx, http.MethodGet, "/tradebook", nil, &result); err != nil {
		return nil, err
	}
	return result.Fills, nil
}

// Funds fetches the account's money picture.
func (c *Client) Funds(ctx context.Context) (*types.Funds, error) {
	var result struct {
		venueResponse
		Funds types.Funds `json:"fund_limit"`
	}
	if err := c.request(ctx, http.MethodGet, "/funds", nil, &result); err != nil {
		return nil, err
	}
	return &result.Funds, nil
}

// Margin answers a pre-trade affordability query for a batch of intents.
func (c *Client) Margin(ctx context.Context, intents []types.OrderIntent) (*types.MarginResult, error) {
	var result struct {
		venueResponse
		Margin types.MarginResult `json:"d"`
	}
	body := map[string]any{"orders": intents}
	if err := c.request(ctx, http.MethodPost, "/margin", body, &result); err != nil {
		return nil, err
	}
	return &result.Margin, nil
}

// ————————————————————————————————————————————————————————————————————————
// Streams
// ————————————————————————————————————————————————————————————————————————

// OrderUpdates returns the order event stream fed by the WebSocket.
func (c *Client) OrderUpdates() <-chan types.OrderUpdate { return c.stream.OrderUpdates() }

// Ticks returns the price tick stream fed by the WebSocket.
func (c *Client) Ticks() <-chan types.Tick { return c.stream.Ticks() }

// SubscribeTicks adds symbols to the tick stream.
func (c *Client) SubscribeTicks(ctx context.Context, symbols []string) error {
	return c.stream.Subscribe(ctx, symbols)
}
