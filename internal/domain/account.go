package domain

import "time"

// Account holds the brokerage account snapshot used for position sizing and
// risk checks.
type Account struct {
	PortfolioValue float64
	Cash           float64
	BuyingPower    float64
}

// Position is an open brokerage position.
type Position struct {
	Symbol        string
	Qty           float64 // positive for long, negative for short
	AvgEntryPrice float64
	MarketValue   float64
	UnrealizedPL  float64
}

// Fill is a single trade execution reported by the brokerage. Fills feed the
// FIFO realized P&L computation.
type Fill struct {
	Symbol          string
	Side            OrderSide
	Qty             int64
	Price           float64
	TransactionTime time.Time
}
