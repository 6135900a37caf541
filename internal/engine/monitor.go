package engine

import (
	"context"
	"fmt"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
	"orbtrader/internal/strategy/indicators"
)

// MonitorConfig holds the monitor tunables.
type MonitorConfig struct {
	PollInterval    time.Duration
	TrailEMAPeriods [3]int
	SwingEnabled    bool
}

// Monitor polls a session's tranches until every one reaches a terminal
// state or, when swing continuation is enabled, only swing-eligible filled
// tranches remain past the session close.
type Monitor struct {
	cfg       MonitorConfig
	orders    *OrderManager
	brokerage ports.Brokerage
	logger    ports.Logger
	clock     ports.Clock
}

// NewMonitor creates a position monitor.
func NewMonitor(cfg MonitorConfig, orders *OrderManager, brokerage ports.Brokerage, logger ports.Logger, clock ports.Clock) *Monitor {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Monitor{cfg: cfg, orders: orders, brokerage: brokerage, logger: logger, clock: clock}
}

// Run polls the session until it settles. It returns nil when the session is
// fully closed or handed off to swing continuation.
func (mon *Monitor) Run(ctx context.Context, session *domain.Session) error {
	for {
		if session.Abandoned {
			mon.abandon(ctx, session)
			return nil
		}
		if mon.settled(session) {
			return nil
		}

		mon.tick(ctx, session)

		if mon.settled(session) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("monitor for %s: %w", session.Symbol, ports.ErrContextCanceled)
		case <-time.After(mon.cfg.PollInterval):
		}
	}
}

// settled reports whether the monitor has nothing left to watch: everything
// terminal, or only swing-eligible filled tranches remaining past the close.
func (mon *Monitor) settled(session *domain.Session) bool {
	if session.AllClosed() {
		return true
	}
	if !mon.cfg.SwingEnabled || mon.clock.Now().Before(session.SessionClose) {
		return false
	}
	for _, t := range session.Tranches {
		if t.IsTerminal() {
			continue
		}
		if t.State != domain.TrancheFilled || !t.SwingEligible {
			return false
		}
	}
	return true
}

// tick runs one monitoring pass over every non-terminal tranche. Exit checks
// run in fixed priority: leg fill reports first, then the EMA trail, then the
// session-close deadline.
func (mon *Monitor) tick(ctx context.Context, session *domain.Session) {
	now := mon.clock.Now()

	price, trailEMAs, trailErr := mon.trailState(ctx, session)
	if trailErr != nil {
		mon.logger.Warn(ctx, "Trail data unavailable this tick", map[string]interface{}{
			"symbol": session.Symbol,
			"error":  trailErr.Error(),
		})
	}

	for _, tranche := range session.Tranches {
		if tranche.IsTerminal() {
			continue
		}

		switch tranche.State {
		case domain.TrancheWorking:
			mon.checkEntry(ctx, session, tranche, now)
		case domain.TrancheFilled:
			if mon.checkLegFills(ctx, session, tranche) {
				continue
			}
			if trailErr == nil && mon.trailBreached(session.Direction, price, trailEMAs[tranche.ID-1]) {
				if err := mon.orders.ForceClose(ctx, session, tranche, domain.CloseReasonTrail); err != nil {
					mon.logger.Error(ctx, err, "Trail close failed", map[string]interface{}{
						"symbol": session.Symbol, "tranche": tranche.ID,
					})
				}
				continue
			}
			if !now.Before(session.SessionClose) && !(mon.cfg.SwingEnabled && tranche.SwingEligible) {
				if err := mon.orders.ForceClose(ctx, session, tranche, domain.CloseReasonSessionClose); err != nil {
					mon.logger.Error(ctx, err, "Session close failed", map[string]interface{}{
						"symbol": session.Symbol, "tranche": tranche.ID,
					})
				}
			}
		}
	}
}

// checkEntry advances a working tranche on its entry order report and
// cancels it once the entry cutoff passes unfilled.
func (mon *Monitor) checkEntry(ctx context.Context, session *domain.Session, tranche *domain.Tranche, now time.Time) {
	order, err := mon.brokerage.GetOrder(ctx, tranche.EntryOrderID)
	if err != nil {
		mon.logger.Warn(ctx, "Entry order lookup failed", map[string]interface{}{
			"symbol": session.Symbol, "tranche": tranche.ID, "error": err.Error(),
		})
		return
	}

	switch order.Status {
	case ports.OrderStatusFilled:
		if err := mon.orders.OnEntryFill(ctx, session, tranche, order); err != nil {
			mon.logger.Error(ctx, err, "Entry fill handling failed", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID,
			})
		}
		return
	case ports.OrderStatusCanceled, ports.OrderStatusRejected, ports.OrderStatusExpired:
		if order.FilledQty > 0 {
			mon.flattenPartial(ctx, session, tranche, order)
			return
		}
		tranche.State = domain.TrancheCancelled
		tranche.ClosedAt = mon.clock.Now()
		return
	}

	if !now.Before(session.EntryCutoff) {
		mon.logger.Info(ctx, "Entry unfilled at cutoff, cancelling", map[string]interface{}{
			"symbol": session.Symbol, "tranche": tranche.ID,
		})
		if order.FilledQty > 0 {
			mon.flattenPartial(ctx, session, tranche, order)
			return
		}
		mon.orders.CancelTranche(ctx, session, tranche)
	}
}

// flattenPartial withdraws an entry that filled part of its quantity and
// closes the filled shares. The tranche stays working if the flatten fails so
// the next tick retries.
func (mon *Monitor) flattenPartial(ctx context.Context, session *domain.Session, tranche *domain.Tranche, order *ports.Order) {
	if err := mon.orders.CancelPartialFill(ctx, session, tranche, order); err != nil {
		mon.logger.Error(ctx, err, "Partial fill cleanup failed", map[string]interface{}{
			"symbol": session.Symbol, "tranche": tranche.ID, "filled_qty": order.FilledQty,
		})
	}
}

// checkLegFills settles the tranche if its stop or target leg filled. The
// target is checked first so a tick that sees both reports banks the win.
func (mon *Monitor) checkLegFills(ctx context.Context, session *domain.Session, tranche *domain.Tranche) bool {
	for _, orderID := range []string{tranche.TargetOrderID, tranche.StopOrderID} {
		if orderID == "" {
			continue
		}
		order, err := mon.brokerage.GetOrder(ctx, orderID)
		if err != nil {
			mon.logger.Warn(ctx, "Leg order lookup failed", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID, "error": err.Error(),
			})
			continue
		}
		if order.Status != ports.OrderStatusFilled {
			continue
		}

		mon.orders.SettleExit(ctx, session, tranche, order)
		if tranche.State == domain.TrancheTargetHit && tranche.ID == 1 {
			mon.orders.RaiseStopsToEntry(ctx, session)
		}
		return true
	}
	return false
}

// trailState fetches the latest price and the per-tranche trail EMAs. Skipped
// entirely when no tranche is filled.
func (mon *Monitor) trailState(ctx context.Context, session *domain.Session) (float64, [3]float64, error) {
	var emas [3]float64

	anyFilled := false
	for _, t := range session.Tranches {
		if t.State == domain.TrancheFilled {
			anyFilled = true
			break
		}
	}
	if !anyFilled {
		return 0, emas, nil
	}

	price, err := mon.brokerage.GetLatestPrice(ctx, session.Symbol)
	if err != nil {
		return 0, emas, err
	}

	longest := mon.cfg.TrailEMAPeriods[0]
	for _, p := range mon.cfg.TrailEMAPeriods {
		if p > longest {
			longest = p
		}
	}
	now := mon.clock.Now()
	bars, err := mon.brokerage.GetBars(ctx, session.Symbol, "1Min", now.Add(-time.Duration(3*longest)*time.Minute), now)
	if err != nil {
		return 0, emas, err
	}
	for i, period := range mon.cfg.TrailEMAPeriods {
		ema, err := indicators.EMA(bars, period)
		if err != nil {
			return 0, emas, err
		}
		emas[i] = ema
	}
	return price, emas, nil
}

// trailBreached reports whether price has crossed the tranche's trail EMA
// against the position.
func (mon *Monitor) trailBreached(direction domain.Direction, price, ema float64) bool {
	if price == 0 || ema == 0 {
		return false
	}
	if direction == domain.Long {
		return price < ema
	}
	return price > ema
}

// abandon cancels everything still working after a cooperative cancel.
func (mon *Monitor) abandon(ctx context.Context, session *domain.Session) {
	for _, tranche := range session.Tranches {
		if tranche.IsTerminal() {
			continue
		}
		switch tranche.State {
		case domain.TrancheWorking:
			order, err := mon.brokerage.GetOrder(ctx, tranche.EntryOrderID)
			if err == nil && order.FilledQty > 0 {
				mon.flattenPartial(ctx, session, tranche, order)
				continue
			}
			mon.orders.CancelTranche(ctx, session, tranche)
		case domain.TranchePending:
			mon.orders.CancelTranche(ctx, session, tranche)
		case domain.TrancheFilled:
			if err := mon.orders.ForceClose(ctx, session, tranche, domain.CloseReasonManual); err != nil {
				mon.logger.Error(ctx, err, "Abandon close failed", map[string]interface{}{
					"symbol": session.Symbol, "tranche": tranche.ID,
				})
			}
		}
	}
}
