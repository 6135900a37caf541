package ports

import (
	"context"
	"time"

	"orbtrader/internal/domain"
)

// OrderType is the brokerage order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus is the brokerage-reported order status.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusOpen            OrderStatus = "open" // query filter, not a terminal status
	OrderStatusAll             OrderStatus = "all"  // query filter
)

// OrderRequest describes an order to submit. ClientOrderID is the caller's
// idempotency token: retried submissions carry the same ID so the provider
// can de-duplicate them.
type OrderRequest struct {
	Symbol        string
	Qty           int64
	Side          domain.OrderSide
	Type          OrderType
	LimitPrice    float64 // required for limit orders
	StopPrice     float64 // required for stop orders
	ClientOrderID string
	TimeInForce   string // "day" or "gtc"
}

// ExitPairRequest describes a linked stop/target pair protecting a filled
// position. The legs are one-cancels-other at the broker: filling either leg
// cancels its sibling there, without waiting for a monitor poll.
type ExitPairRequest struct {
	Symbol        string
	Qty           int64
	Side          domain.OrderSide // the exit side, opposite the entry
	TargetPrice   float64
	StopPrice     float64
	ClientOrderID string
	TimeInForce   string
}

// ExitPair is the broker's record of a linked stop/target pair.
type ExitPair struct {
	Target *Order
	Stop   *Order
}

// Order represents the essential details of a brokerage order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           domain.OrderSide
	Type           OrderType
	Qty            int64
	FilledQty      int64
	LimitPrice     float64
	StopPrice      float64
	FilledAvgPrice float64
	Status         OrderStatus
	SubmittedAt    time.Time
	FilledAt       time.Time
}

// Brokerage defines the interface for the brokerage account: order
// submission, account state and trade history. All calls are routed through
// the resilient gateway; implementations wrap provider errors with the
// standard error taxonomy.
type Brokerage interface {
	// SubmitOrder submits a new order and returns the brokerage's record of it.
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// SubmitExitPair submits a broker-linked one-cancels-other stop/target
	// pair for an open position.
	SubmitExitPair(ctx context.Context, req ExitPairRequest) (*ExitPair, error)
	// CancelOrder cancels an open order by its brokerage ID.
	CancelOrder(ctx context.Context, orderID string) error
	// GetOrder retrieves the current state of an order.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// ListOrders retrieves orders filtered by status, most recent first.
	ListOrders(ctx context.Context, status OrderStatus, limit int) ([]*Order, error)
	// GetAccount retrieves the account snapshot.
	GetAccount(ctx context.Context) (*domain.Account, error)
	// ListPositions retrieves all open positions.
	ListPositions(ctx context.Context) ([]*domain.Position, error)
	// ClosePosition submits a market order flattening qty shares of symbol.
	// qty <= 0 closes the whole position.
	ClosePosition(ctx context.Context, symbol string, qty int64) (*Order, error)
	// GetBars retrieves historical bars for the symbol in the given window.
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error)
	// GetLatestPrice retrieves the last trade price for the symbol.
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	// ListFills retrieves trade executions in the window, oldest first.
	ListFills(ctx context.Context, start, end time.Time) ([]*domain.Fill, error)
}

// MarketData defines the interface for the market/fundamental data provider.
type MarketData interface {
	// GetHistoricalPrices retrieves daily bars for the symbol.
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error)
	// GetIndexConstituents retrieves the member symbols of an index.
	GetIndexConstituents(ctx context.Context, indexCode string) ([]string, error)
}
