// Package alpaca implements the brokerage port against the Alpaca trading
// and market data REST APIs. Provider responses and failures are translated
// into the application's domain types and error taxonomy; callers never see
// raw HTTP details.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// Config holds the connection parameters for the Alpaca APIs.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string // trading API, e.g. https://paper-api.alpaca.markets
	DataURL   string // market data API, e.g. https://data.alpaca.markets
	Logger    ports.Logger
}

// Client talks to Alpaca. It satisfies ports.Brokerage.
type Client struct {
	trading *resty.Client
	data    *resty.Client
	logger  ports.Logger
}

// New creates an Alpaca client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: alpaca credentials are required", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" || cfg.DataURL == "" {
		return nil, fmt.Errorf("%w: alpaca base and data URLs are required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}

	newREST := func(baseURL string) *resty.Client {
		c := resty.New()
		c.SetBaseURL(baseURL)
		c.SetHeader("APCA-API-KEY-ID", cfg.APIKey)
		c.SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)
		// The gateway owns retries and timeouts; the transport stays dumb.
		c.SetRetryCount(0)
		return c
	}

	return &Client{
		trading: newREST(cfg.BaseURL),
		data:    newREST(cfg.DataURL),
		logger:  cfg.Logger,
	}, nil
}

// --- wire types ---

// Alpaca serializes most numbers as JSON strings.
type alpacaOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	LimitPrice     string `json:"limit_price"`
	StopPrice      string `json:"stop_price"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Status         string `json:"status"`
	SubmittedAt    string `json:"submitted_at"`
	FilledAt       string `json:"filled_at"`

	// Populated for oco/bracket order classes.
	Legs []alpacaOrder `json:"legs"`
}

type alpacaAccount struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

type alpacaBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type alpacaActivity struct {
	ID              string `json:"id"`
	ActivityType    string `json:"activity_type"`
	TransactionTime string `json:"transaction_time"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Qty             string `json:"qty"`
	Price           string `json:"price"`
}

func (o *alpacaOrder) toPort() *ports.Order {
	order := &ports.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Type:           ports.OrderType(o.Type),
		Qty:            parseInt(o.Qty),
		FilledQty:      parseInt(o.FilledQty),
		LimitPrice:     parseFloat(o.LimitPrice),
		StopPrice:      parseFloat(o.StopPrice),
		FilledAvgPrice: parseFloat(o.FilledAvgPrice),
		Status:         ports.OrderStatus(o.Status),
		SubmittedAt:    parseTime(o.SubmittedAt),
		FilledAt:       parseTime(o.FilledAt),
	}
	if o.Side == "buy" {
		order.Side = domain.Buy
	} else {
		order.Side = domain.Sell
	}
	return order
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	// Fractional quantities are truncated; this strategy only trades whole
	// shares.
	v, _ := strconv.ParseFloat(s, 64)
	return int64(v)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// --- error mapping ---

// mapHTTPError translates an HTTP failure into the standard taxonomy.
func mapHTTPError(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case status == 429:
		retryAfter := time.Duration(0)
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &ports.RateLimitError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("alpaca returned 429: %s", resp.String()),
		}
	case status >= 500:
		return fmt.Errorf("%w: alpaca returned %d: %s", ports.ErrTransientProvider, status, resp.String())
	case status == 404:
		return fmt.Errorf("%w: alpaca returned 404: %s", ports.ErrNotFound, resp.String())
	case status == 403:
		return fmt.Errorf("%w: alpaca returned 403: %s", ports.ErrInsufficientFunds, resp.String())
	default:
		return fmt.Errorf("%w: alpaca returned %d: %s", ports.ErrPermanentRequest, status, resp.String())
	}
}

// wrapTransport normalizes resty transport errors.
func wrapTransport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ports.ErrTransientProvider, op, err)
}

// --- ports.Brokerage ---

// SubmitOrder submits req to the trading API. The request's ClientOrderID
// makes retries idempotent: when Alpaca rejects the ID as a duplicate, the
// original order is looked up and returned instead. A transport failure
// after the request may have gone out is resolved the same way; if the
// lookup cannot settle what happened, ErrSubmissionAmbiguous is returned and
// the caller must not blind-retry.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.Order, error) {
	payload := map[string]interface{}{
		"symbol":          req.Symbol,
		"qty":             strconv.FormatInt(req.Qty, 10),
		"side":            sideParam(req.Side),
		"type":            string(req.Type),
		"time_in_force":   req.TimeInForce,
		"client_order_id": req.ClientOrderID,
	}
	if req.Type == ports.OrderTypeLimit {
		payload["limit_price"] = formatPrice(req.LimitPrice)
	}
	if req.Type == ports.OrderTypeStop {
		payload["stop_price"] = formatPrice(req.StopPrice)
	}

	var out alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		// The order may or may not have reached Alpaca.
		return c.recoverSubmission(ctx, req.ClientOrderID, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 422 && req.ClientOrderID != "" {
			// A duplicate client order ID means an earlier attempt landed.
			if existing, lookupErr := c.orderByClientID(ctx, req.ClientOrderID); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, mapHTTPError(resp)
	}
	return out.toPort(), nil
}

// SubmitExitPair submits the stop/target legs as a single oco order so the
// linkage lives at Alpaca: filling either leg cancels the sibling on the
// broker side. The take-profit limit is the parent order; the stop comes
// back on its legs.
func (c *Client) SubmitExitPair(ctx context.Context, req ports.ExitPairRequest) (*ports.ExitPair, error) {
	payload := map[string]interface{}{
		"symbol":          req.Symbol,
		"qty":             strconv.FormatInt(req.Qty, 10),
		"side":            sideParam(req.Side),
		"type":            "limit",
		"limit_price":     formatPrice(req.TargetPrice),
		"time_in_force":   req.TimeInForce,
		"client_order_id": req.ClientOrderID,
		"order_class":     "oco",
		"stop_loss": map[string]string{
			"stop_price": formatPrice(req.StopPrice),
		},
	}

	var out alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		return c.recoverExitPair(ctx, req.ClientOrderID, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 422 && req.ClientOrderID != "" {
			if existing, lookupErr := c.exitPairByClientID(ctx, req.ClientOrderID); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, mapHTTPError(resp)
	}
	return pairFromOrder(&out)
}

// pairFromOrder splits an oco parent into its target and stop legs.
func pairFromOrder(o *alpacaOrder) (*ports.ExitPair, error) {
	pair := &ports.ExitPair{Target: o.toPort()}
	for i := range o.Legs {
		if o.Legs[i].Type == "stop" {
			pair.Stop = o.Legs[i].toPort()
			break
		}
	}
	if pair.Stop == nil {
		// The pair may be live at Alpaca without us holding the stop's ID.
		return nil, fmt.Errorf("%w: oco response for %s carries no stop leg", ports.ErrSubmissionAmbiguous, o.ID)
	}
	return pair, nil
}

// recoverExitPair resolves a transport failure during an oco submission via
// the pair's client order ID.
func (c *Client) recoverExitPair(ctx context.Context, clientOrderID string, cause error) (*ports.ExitPair, error) {
	if clientOrderID == "" {
		return nil, fmt.Errorf("%w: exit pair submission failed without a client order id: %v", ports.ErrSubmissionAmbiguous, cause)
	}
	existing, err := c.exitPairByClientID(ctx, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: exit pair submission failed and lookup of %s failed too: %v", ports.ErrSubmissionAmbiguous, clientOrderID, cause)
	}
	if existing != nil {
		c.logger.Warn(ctx, "Exit pair submission recovered via client order id", map[string]interface{}{
			"client_order_id": clientOrderID,
			"order_id":        existing.Target.ID,
		})
		return existing, nil
	}
	return nil, wrapTransport("SubmitExitPair", cause)
}

// exitPairByClientID fetches an oco pair by its client order ID, re-reading
// the parent with nested legs. nil, nil when Alpaca has no record of it.
func (c *Client) exitPairByClientID(ctx context.Context, clientOrderID string) (*ports.ExitPair, error) {
	parent, err := c.orderByClientID(ctx, clientOrderID)
	if err != nil || parent == nil {
		return nil, err
	}

	var out alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetQueryParam("nested", "true").
		SetResult(&out).
		Get("/v2/orders/" + parent.ID)
	if err != nil {
		return nil, wrapTransport("GetOrderNested", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}
	return pairFromOrder(&out)
}

// recoverSubmission resolves a transport failure during submission by
// checking whether the order landed under its client order ID.
func (c *Client) recoverSubmission(ctx context.Context, clientOrderID string, cause error) (*ports.Order, error) {
	if clientOrderID == "" {
		return nil, fmt.Errorf("%w: submission failed without a client order id: %v", ports.ErrSubmissionAmbiguous, cause)
	}
	existing, err := c.orderByClientID(ctx, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: submission failed and lookup of %s failed too: %v", ports.ErrSubmissionAmbiguous, clientOrderID, cause)
	}
	if existing != nil {
		c.logger.Warn(ctx, "Submission recovered via client order id", map[string]interface{}{
			"client_order_id": clientOrderID,
			"order_id":        existing.ID,
		})
		return existing, nil
	}
	// Alpaca has no record; the submission never landed and may be retried.
	return nil, wrapTransport("SubmitOrder", cause)
}

// orderByClientID fetches an order by its client order ID. nil, nil when
// Alpaca has no record of it.
func (c *Client) orderByClientID(ctx context.Context, clientOrderID string) (*ports.Order, error) {
	var out alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetQueryParam("client_order_id", clientOrderID).
		SetResult(&out).
		Get("/v2/orders:by_client_order_id")
	if err != nil {
		return nil, wrapTransport("GetOrderByClientID", err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}
	return out.toPort(), nil
}

// CancelOrder cancels an open order. Alpaca answers 404 for unknown IDs and
// 422 when the order is no longer cancelable.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := c.trading.R().
		SetContext(ctx).
		Delete("/v2/orders/" + orderID)
	if err != nil {
		return wrapTransport("CancelOrder", err)
	}
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%w: order %s", ports.ErrOrderNotFound, orderID)
	}
	if resp.IsError() {
		return mapHTTPError(resp)
	}
	return nil
}

// GetOrder retrieves an order by its brokerage ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	var out alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/orders/" + orderID)
	if err != nil {
		return nil, wrapTransport("GetOrder", err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: order %s", ports.ErrOrderNotFound, orderID)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}
	return out.toPort(), nil
}

// ListOrders retrieves orders filtered by status.
func (c *Client) ListOrders(ctx context.Context, status ports.OrderStatus, limit int) ([]*ports.Order, error) {
	var out []alpacaOrder
	resp, err := c.trading.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"status": string(status),
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/v2/orders")
	if err != nil {
		return nil, wrapTransport("ListOrders", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}

	orders := make([]*ports.Order, 0, len(out))
	for i := range out {
		orders = append(orders, out[i].toPort())
	}
	return orders, nil
}

// GetAccount retrieves the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*domain.Account, error) {
	var out alpacaAccount
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/account")
	if err != nil {
		return nil, wrapTransport("GetAccount", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}
	return &domain.Account{
		PortfolioValue: parseFloat(out.Equity),
		Cash:           parseFloat(out.Cash),
		BuyingPower:    parseFloat(out.BuyingPower),
	}, nil
}

// ListPositions retrieves all open positions.
func (c *Client) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	var out []alpacaPosition
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/positions")
	if err != nil {
		return nil, wrapTransport("ListPositions", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}

	positions := make([]*domain.Position, 0, len(out))
	for _, p := range out {
		positions = append(positions, &domain.Position{
			Symbol:        p.Symbol,
			Qty:           parseFloat(p.Qty),
			AvgEntryPrice: parseFloat(p.AvgEntryPrice),
			MarketValue:   parseFloat(p.MarketValue),
			UnrealizedPL:  parseFloat(p.UnrealizedPL),
		})
	}
	return positions, nil
}

// ClosePosition market-closes qty shares of symbol; qty <= 0 closes all.
func (c *Client) ClosePosition(ctx context.Context, symbol string, qty int64) (*ports.Order, error) {
	req := c.trading.R().SetContext(ctx)
	if qty > 0 {
		req.SetQueryParam("qty", strconv.FormatInt(qty, 10))
	}
	var out alpacaOrder
	resp, err := req.SetResult(&out).Delete("/v2/positions/" + symbol)
	if err != nil {
		return nil, wrapTransport("ClosePosition", err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: no open position in %s", ports.ErrNotFound, symbol)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}
	return out.toPort(), nil
}

// GetBars retrieves historical bars, following the data API's pagination.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error) {
	var bars []*domain.Bar
	pageToken := ""

	for {
		params := map[string]string{
			"timeframe":  timeframe,
			"start":      start.Format(time.RFC3339),
			"end":        end.Format(time.RFC3339),
			"limit":      "10000",
			"adjustment": "raw",
		}
		if pageToken != "" {
			params["page_token"] = pageToken
		}

		var out struct {
			Bars          []alpacaBar `json:"bars"`
			NextPageToken *string     `json:"next_page_token"`
		}
		resp, err := c.data.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&out).
			Get("/v2/stocks/" + symbol + "/bars")
		if err != nil {
			return nil, wrapTransport("GetBars", err)
		}
		if resp.IsError() {
			return nil, mapHTTPError(resp)
		}

		for _, b := range out.Bars {
			bars = append(bars, &domain.Bar{
				Symbol:    symbol,
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			})
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			return bars, nil
		}
		pageToken = *out.NextPageToken
	}
}

// GetLatestPrice retrieves the last trade price for symbol.
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	resp, err := c.data.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/stocks/" + symbol + "/trades/latest")
	if err != nil {
		return 0, wrapTransport("GetLatestPrice", err)
	}
	if resp.IsError() {
		return 0, mapHTTPError(resp)
	}
	if out.Trade.Price <= 0 {
		return 0, fmt.Errorf("%w: no trade price for %s", ports.ErrInsufficientData, symbol)
	}
	return out.Trade.Price, nil
}

// ListFills retrieves fill activities in the window, oldest first, following
// the activities API's token pagination.
func (c *Client) ListFills(ctx context.Context, start, end time.Time) ([]*domain.Fill, error) {
	var fills []*domain.Fill
	pageToken := ""

	for {
		params := map[string]string{
			"after":     start.Format(time.RFC3339),
			"until":     end.Format(time.RFC3339),
			"direction": "asc",
			"page_size": "100",
		}
		if pageToken != "" {
			params["page_token"] = pageToken
		}

		resp, err := c.trading.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get("/v2/account/activities/FILL")
		if err != nil {
			return nil, wrapTransport("ListFills", err)
		}
		if resp.IsError() {
			return nil, mapHTTPError(resp)
		}

		var out []alpacaActivity
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("%w: failed to parse activities: %v", ports.ErrPermanentRequest, err)
		}
		if len(out) == 0 {
			return fills, nil
		}

		for _, a := range out {
			side := domain.Buy
			if a.Side == "sell" || a.Side == "sell_short" {
				side = domain.Sell
			}
			fills = append(fills, &domain.Fill{
				Symbol:          a.Symbol,
				Side:            side,
				Qty:             parseInt(a.Qty),
				Price:           parseFloat(a.Price),
				TransactionTime: parseTime(a.TransactionTime),
			})
		}
		pageToken = out[len(out)-1].ID
	}
}

func sideParam(side domain.OrderSide) string {
	if side == domain.Buy {
		return "buy"
	}
	return "sell"
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
