package domain

import "time"

// Bar represents a single OHLCV price bar.
type Bar struct {
	Symbol    string    // Trading symbol
	Timestamp time.Time // Start time of the bar interval
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}
