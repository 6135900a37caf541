package gateway

import (
	"context"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// ResilientBrokerage decorates a ports.Brokerage so that every call passes
// through the gateway's limiter, breaker and retry policy. The engine and
// the risk gate receive this wrapper, never the raw adapter.
type ResilientBrokerage struct {
	gw    *Gateway
	inner ports.Brokerage
}

// WrapBrokerage returns a resilient view of the brokerage adapter.
func WrapBrokerage(gw *Gateway, inner ports.Brokerage) *ResilientBrokerage {
	return &ResilientBrokerage{gw: gw, inner: inner}
}

func (b *ResilientBrokerage) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.Order, error) {
	var out *ports.Order
	err := b.gw.Call(ctx, ProviderBrokerage, "SubmitOrder", func(ctx context.Context) error {
		var err error
		out, err = b.inner.SubmitOrder(ctx, req)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) SubmitExitPair(ctx context.Context, req ports.ExitPairRequest) (*ports.ExitPair, error) {
	var out *ports.ExitPair
	err := b.gw.Call(ctx, ProviderBrokerage, "SubmitExitPair", func(ctx context.Context) error {
		var err error
		out, err = b.inner.SubmitExitPair(ctx, req)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) CancelOrder(ctx context.Context, orderID string) error {
	return b.gw.Call(ctx, ProviderBrokerage, "CancelOrder", func(ctx context.Context) error {
		return b.inner.CancelOrder(ctx, orderID)
	})
}

func (b *ResilientBrokerage) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	var out *ports.Order
	err := b.gw.Call(ctx, ProviderBrokerage, "GetOrder", func(ctx context.Context) error {
		var err error
		out, err = b.inner.GetOrder(ctx, orderID)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) ListOrders(ctx context.Context, status ports.OrderStatus, limit int) ([]*ports.Order, error) {
	var out []*ports.Order
	err := b.gw.Call(ctx, ProviderBrokerage, "ListOrders", func(ctx context.Context) error {
		var err error
		out, err = b.inner.ListOrders(ctx, status, limit)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) GetAccount(ctx context.Context) (*domain.Account, error) {
	var out *domain.Account
	err := b.gw.Call(ctx, ProviderBrokerage, "GetAccount", func(ctx context.Context) error {
		var err error
		out, err = b.inner.GetAccount(ctx)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	err := b.gw.Call(ctx, ProviderBrokerage, "ListPositions", func(ctx context.Context) error {
		var err error
		out, err = b.inner.ListPositions(ctx)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) ClosePosition(ctx context.Context, symbol string, qty int64) (*ports.Order, error) {
	var out *ports.Order
	err := b.gw.Call(ctx, ProviderBrokerage, "ClosePosition", func(ctx context.Context) error {
		var err error
		out, err = b.inner.ClosePosition(ctx, symbol, qty)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error) {
	var out []*domain.Bar
	err := b.gw.Call(ctx, ProviderBrokerage, "GetBars", func(ctx context.Context) error {
		var err error
		out, err = b.inner.GetBars(ctx, symbol, timeframe, start, end)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var out float64
	err := b.gw.Call(ctx, ProviderBrokerage, "GetLatestPrice", func(ctx context.Context) error {
		var err error
		out, err = b.inner.GetLatestPrice(ctx, symbol)
		return err
	})
	return out, err
}

func (b *ResilientBrokerage) ListFills(ctx context.Context, start, end time.Time) ([]*domain.Fill, error) {
	var out []*domain.Fill
	err := b.gw.Call(ctx, ProviderBrokerage, "ListFills", func(ctx context.Context) error {
		var err error
		out, err = b.inner.ListFills(ctx, start, end)
		return err
	})
	return out, err
}

// ResilientMarketData decorates a ports.MarketData the same way.
type ResilientMarketData struct {
	gw    *Gateway
	inner ports.MarketData
}

// WrapMarketData returns a resilient view of the market data adapter.
func WrapMarketData(gw *Gateway, inner ports.MarketData) *ResilientMarketData {
	return &ResilientMarketData{gw: gw, inner: inner}
}

func (m *ResilientMarketData) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error) {
	var out []*domain.Bar
	err := m.gw.Call(ctx, ProviderMarketData, "GetHistoricalPrices", func(ctx context.Context) error {
		var err error
		out, err = m.inner.GetHistoricalPrices(ctx, symbol, start, end)
		return err
	})
	return out, err
}

func (m *ResilientMarketData) GetIndexConstituents(ctx context.Context, indexCode string) ([]string, error) {
	var out []string
	err := m.gw.Call(ctx, ProviderMarketData, "GetIndexConstituents", func(ctx context.Context) error {
		var err error
		out, err = m.inner.GetIndexConstituents(ctx, indexCode)
		return err
	})
	return out, err
}
