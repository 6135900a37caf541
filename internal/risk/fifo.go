package risk

import (
	"sort"
	"time"

	"orbtrader/internal/domain"
)

// lot is an open buy waiting to be matched against later sells.
type lot struct {
	qty   int64
	price float64
}

// RealizedFIFO computes realized P&L by matching sells against earlier buys
// in first-in-first-out order, per symbol. Fills older than windowStart still
// consume the buy queue so positions opened before the window are matched
// correctly, but only sells executed at or after windowStart contribute to
// the returned total. Sells with no matching buy on the queue are skipped.
func RealizedFIFO(fills []*domain.Fill, windowStart time.Time) float64 {
	sorted := make([]*domain.Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TransactionTime.Before(sorted[j].TransactionTime)
	})

	queues := make(map[string][]lot)
	var realized float64

	for _, f := range sorted {
		switch f.Side {
		case domain.Buy:
			queues[f.Symbol] = append(queues[f.Symbol], lot{qty: f.Qty, price: f.Price})
		case domain.Sell:
			queue := queues[f.Symbol]
			inWindow := !f.TransactionTime.Before(windowStart)
			remaining := f.Qty
			for remaining > 0 && len(queue) > 0 {
				head := &queue[0]
				matched := remaining
				if head.qty < matched {
					matched = head.qty
				}
				if inWindow {
					realized += float64(matched) * (f.Price - head.price)
				}
				head.qty -= matched
				remaining -= matched
				if head.qty == 0 {
					queue = queue[1:]
				}
			}
			queues[f.Symbol] = queue
		}
	}
	return realized
}
