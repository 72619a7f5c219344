package bitmex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/internal/infra"
	"github.com/bhojpur/trades/pkg/clock"
)

// originTimestamps caches the first-bar epoch for known instruments so
// backfills skip a venue round trip.
var originTimestamps = map[string]int64{
	"XBTUSD": 1483228800,
	"ETHUSD": 1533200520,
	"XRPUSD": 1580875200,
}

// Client is the BitMEX REST venue. All calls are blocking I/O guarded by
// per-endpoint rate limiters and a circuit breaker; transient failures
// are retried with exponential backoff, authentication failures never.
type Client struct {
	name    string
	symbols []string
	baseURL string

	httpClient *http.Client
	signer     *Signer
	clk        clock.Clock

	marketLimiter  *infra.RateLimiter
	accountLimiter *infra.RateLimiter
	orderLimiter   *infra.RateLimiter
	breaker        *infra.CircuitBreaker

	maxRetries int

	ticks *TickBuffer
}

// Option tweaks client construction, used by tests to point the client at
// a mock venue.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clk = clk
		c.signer.clk = clk
	}
}

// WithLimiters overrides the per-endpoint rate limiters.
func WithLimiters(market, account, order *infra.RateLimiter) Option {
	return func(c *Client) {
		c.marketLimiter = market
		c.accountLimiter = account
		c.orderLimiter = order
	}
}

// NewClient creates a BitMEX REST client for the given symbols.
func NewClient(accessKey, secretKey string, symbols []string, opts ...Option) *Client {
	clk := clock.Real{}
	c := &Client{
		name:           "BitMEX",
		symbols:        symbols,
		baseURL:        MainnetURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		signer:         NewSigner(accessKey, secretKey, clk),
		clk:            clk,
		marketLimiter:  infra.GetBitmexMarketLimiter(),
		accountLimiter: infra.GetBitmexAccountLimiter(),
		orderLimiter:   infra.GetBitmexOrderLimiter(),
		breaker:        infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("bitmex-rest")),
		maxRetries:     3,
		ticks:          NewTickBuffer(defaultTickBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string      { return c.name }
func (c *Client) Symbols() []string { return c.symbols }

// Ticks exposes the rolling tick buffer fed by the websocket worker.
func (c *Client) Ticks() *TickBuffer { return c.ticks }

// GetBarsInPeriod fetches up to count 1-minute bars beginning at
// startEpoch. The request is clamped to the venue's per-call maximum and
// the start time converted to ISO-8601.
func (c *Client) GetBarsInPeriod(ctx context.Context, symbol string, startEpoch int64, count int) ([]domain.Bar, error) {
	if count > MaxBarsPerRequest {
		count = MaxBarsPerRequest
	}

	start := time.Unix(startEpoch, 0).UTC().Format("2006-01-02T15:04:05")

	query := url.Values{}
	query.Set("binSize", "1m")
	query.Set("symbol", symbol)
	query.Set("count", fmt.Sprintf("%d", count))
	query.Set("startTime", start)
	query.Set("reverse", "false")

	body, err := c.get(ctx, c.marketLimiter, barsPath, query, false)
	if err != nil {
		return nil, fmt.Errorf("%w: bars for %s: %v", exchange.ErrDataUnavailable, symbol, err)
	}

	var payload []barPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode bars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(payload))
	for _, p := range payload {
		bar, err := p.toBar(symbol)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetOriginTimestamp returns the epoch of the instrument's first bar,
// from cache when known, otherwise from the venue.
func (c *Client) GetOriginTimestamp(ctx context.Context, symbol string) (int64, error) {
	if ts, ok := originTimestamps[symbol]; ok {
		return ts, nil
	}

	bars, err := c.GetBarsInPeriod(ctx, symbol, 0, 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: no origin bar for %s", exchange.ErrDataUnavailable, symbol)
	}

	slog.Debug("BitMEX origin timestamp resolved",
		slog.String("symbol", symbol),
		slog.Int64("timestamp", bars[0].Timestamp))
	return bars[0].Timestamp, nil
}

// GetPositions returns all open positions, fetched over the signed route.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	body, err := c.get(ctx, c.accountLimiter, positionsPath, nil, true)
	if err != nil {
		return nil, err
	}

	var payload []positionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(payload))
	for _, p := range payload {
		positions = append(positions, p.toPosition())
	}
	return positions, nil
}

// GetOrders returns all working orders, fetched over the signed route.
func (c *Client) GetOrders(ctx context.Context) ([]domain.Order, error) {
	body, err := c.get(ctx, c.accountLimiter, ordersPath, nil, true)
	if err != nil {
		return nil, err
	}

	var payload []orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(payload))
	for _, p := range payload {
		orders = append(orders, p.toOrder())
	}
	return orders, nil
}

// SubmitOrder places an order over the signed route. The client order ID
// makes resubmission idempotent at the venue.
func (c *Client) SubmitOrder(ctx context.Context, symbol string, order domain.Order) (exchange.OrderAck, error) {
	payload := submitPayload{
		Symbol:   symbol,
		Side:     sideFor(order.Direction),
		OrderQty: order.Size.String(),
		OrdType:  ordTypeFor(order.Type),
		ClOrdID:  order.ClientID(),
	}
	switch order.Type {
	case domain.StopMarket, domain.StopLimit:
		payload.StopPx = order.Price.String()
	default:
		payload.Price = order.Price.String()
	}
	if order.ReduceOnly {
		payload.ExecInst = "ReduceOnly"
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("failed to encode order: %w", err)
	}

	respBody, err := c.do(ctx, c.orderLimiter, http.MethodPost, ordersPath, nil, reqBody, true)
	if err != nil {
		return exchange.OrderAck{}, err
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("failed to decode order ack: %w", err)
	}

	ack := exchange.OrderAck{
		VenueOrderID: resp.OrderID,
		FilledQty:    decimal.NewFromFloat(resp.CumQty),
		AvgPrice:     decimal.NewFromFloat(resp.AvgPx),
	}
	switch resp.OrdStatus {
	case "Filled":
		ack.Status = domain.Filled
	case "PartiallyFilled":
		ack.Status = domain.Partial
	case "Rejected":
		return exchange.OrderAck{}, fmt.Errorf("%w: %s", exchange.ErrOrderRejected, order.ClientID())
	default:
		ack.Status = domain.Unfilled
	}
	if ts, err := parseVenueTime(resp.Timestamp); err == nil {
		ack.Timestamp = ts.Unix()
	} else {
		ack.Timestamp = c.clk.Now().Unix()
	}
	return ack, nil
}

func (c *Client) get(ctx context.Context, limiter *infra.RateLimiter, path string, query url.Values, signed bool) ([]byte, error) {
	return c.do(ctx, limiter, http.MethodGet, path, query, nil, signed)
}

// do issues one REST request with rate limiting, circuit breaking and
// retry. Authentication rejections are terminal; transient errors retry
// with exponential backoff until the budget is spent.
func (c *Client) do(ctx context.Context, limiter *infra.RateLimiter, method, path string, query url.Values, reqBody []byte, signed bool) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(infra.CalculateBackoff(attempt - 1)):
			}
		}

		if !c.breaker.Allow() {
			lastErr = fmt.Errorf("circuit breaker open for %s", path)
			continue
		}
		limiter.Wait()

		body, err := c.doOnce(ctx, method, fullURL, reqBody, signed)
		if err == nil {
			c.breaker.RecordSuccess()
			return body, nil
		}
		if errors.Is(err, exchange.ErrAuthentication) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		c.breaker.RecordFailure()
		lastErr = err
		slog.Warn("BitMEX request failed",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}

	return nil, fmt.Errorf("request to %s exhausted retries: %w", path, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, fullURL string, reqBody []byte, signed bool) ([]byte, error) {
	var bodyReader io.Reader
	if len(reqBody) > 0 {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, err
	}
	if len(reqBody) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if err := c.signer.Authorize(req, reqBody); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d: %s", exchange.ErrAuthentication, resp.StatusCode, respBody)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("venue returned status %d: %s", resp.StatusCode, respBody)
	}

	return respBody, nil
}
