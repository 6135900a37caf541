package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type closedCall struct {
	symbol string
	qty    int64
}

// fakeBroker is an in-memory brokerage double. Orders get sequential IDs;
// tests drive fills through fill().
type fakeBroker struct {
	mu sync.Mutex

	account *domain.Account
	price   float64
	bars    map[string][]*domain.Bar // keyed by timeframe

	orders    map[string]*ports.Order
	submitted []ports.OrderRequest
	pairs     []ports.ExitPairRequest
	canceled  []string
	closes    []closedCall

	nextID int

	submitErr      map[ports.OrderType]error
	submitErrAfter int // fail submissions once this many succeeded; 0 disables
	pairErr        error
	cancelErr      error
	priceErr       error
	barsErr        error
	closeErr       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		account: &domain.Account{PortfolioValue: 100000, Cash: 100000, BuyingPower: 200000},
		price:   100,
		bars:    make(map[string][]*domain.Bar),
		orders:  make(map[string]*ports.Order),
	}
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[req.Type]; err != nil {
		return nil, err
	}
	if f.submitErrAfter > 0 && len(f.submitted) >= f.submitErrAfter {
		return nil, ports.ErrTransientProvider
	}
	f.nextID++
	order := &ports.Order{
		ID:            fmt.Sprintf("ord-%d", f.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        ports.OrderStatusAccepted,
	}
	f.orders[order.ID] = order
	f.submitted = append(f.submitted, req)
	return order, nil
}

func (f *fakeBroker) SubmitExitPair(ctx context.Context, req ports.ExitPairRequest) (*ports.ExitPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	f.nextID++
	target := &ports.Order{
		ID:            fmt.Sprintf("ord-%d", f.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          ports.OrderTypeLimit,
		Qty:           req.Qty,
		LimitPrice:    req.TargetPrice,
		Status:        ports.OrderStatusAccepted,
	}
	f.nextID++
	stop := &ports.Order{
		ID:        fmt.Sprintf("ord-%d", f.nextID),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      ports.OrderTypeStop,
		Qty:       req.Qty,
		StopPrice: req.StopPrice,
		Status:    ports.OrderStatusAccepted,
	}
	f.orders[target.ID] = target
	f.orders[stop.ID] = stop
	f.pairs = append(f.pairs, req)
	return &ports.ExitPair{Target: target, Stop: stop}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	if o, ok := f.orders[orderID]; ok && o.Status != ports.OrderStatusFilled {
		o.Status = ports.OrderStatusCanceled
	}
	return nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		return o, nil
	}
	return nil, ports.ErrOrderNotFound
}

func (f *fakeBroker) ListOrders(ctx context.Context, status ports.OrderStatus, limit int) ([]*ports.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	return f.account, nil
}

func (f *fakeBroker) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, symbol string, qty int64) (*ports.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closes = append(f.closes, closedCall{symbol: symbol, qty: qty})
	f.nextID++
	return &ports.Order{
		ID:             fmt.Sprintf("ord-%d", f.nextID),
		Symbol:         symbol,
		Qty:            qty,
		Status:         ports.OrderStatusFilled,
		FilledQty:      qty,
		FilledAvgPrice: f.price,
	}, nil
}

func (f *fakeBroker) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error) {
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars[timeframe], nil
}

func (f *fakeBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeBroker) ListFills(ctx context.Context, start, end time.Time) ([]*domain.Fill, error) {
	return nil, nil
}

// fill marks an order filled at price.
func (f *fakeBroker) fill(orderID string, price float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = ports.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.FilledAt = at
}

// partialFill marks an order as partially filled for qty shares at price.
func (f *fakeBroker) partialFill(orderID string, qty int64, price float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = ports.OrderStatusPartiallyFilled
	o.FilledQty = qty
	o.FilledAvgPrice = price
	o.FilledAt = at
}

// wasCanceled reports whether orderID was canceled.
func (f *fakeBroker) wasCanceled(orderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.canceled {
		if id == orderID {
			return true
		}
	}
	return false
}

// memTrades is an in-memory TradeRepository.
type memTrades struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (m *memTrades) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *memTrades) RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, errors.New("not implemented")
}

// risingBars builds count minute bars ending at end with closes stepping up
// to last.
func risingBars(symbol string, end time.Time, count int, last, step float64) []*domain.Bar {
	bars := make([]*domain.Bar, count)
	for i := 0; i < count; i++ {
		c := last - float64(count-1-i)*step
		bars[i] = &domain.Bar{
			Symbol:    symbol,
			Timestamp: end.Add(-time.Duration(count-i) * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
		}
	}
	return bars
}

func testOrderConfig() OrderConfig {
	return OrderConfig{
		BreakoutBuffer:   0.006,
		MinLimitOffset:   0.05,
		StopRates:        [3]float64{0.015, 0.02, 0.025},
		ProfitRates:      [3]float64{0.02, 0.04, 0.08},
		PositionSizeRate: 0.8,
		SlotCount:        18,
	}
}
