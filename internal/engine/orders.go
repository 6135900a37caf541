package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"orbtrader/internal/domain"
	"orbtrader/internal/metrics"
	"orbtrader/internal/ports"
)

// OrderConfig holds the sizing and bracket tunables.
type OrderConfig struct {
	BreakoutBuffer float64
	MinLimitOffset float64 // floor on the marketable-limit offset in dollars

	StopRates   [3]float64
	ProfitRates [3]float64

	PositionSizeRate float64 // fraction of portfolio allocated to the strategy
	SlotCount        int     // concurrent symbol slots the allocation is split across
	PositionValue    float64 // explicit per-symbol USD override; 0 = auto sizing
}

// OrderManager owns the order lifecycle of a session's tranches: sizing,
// entry submission, protective leg attachment and exits.
type OrderManager struct {
	cfg       OrderConfig
	brokerage ports.Brokerage
	trades    ports.TradeRepository
	logger    ports.Logger
	clock     ports.Clock
}

// NewOrderManager creates an order manager.
func NewOrderManager(cfg OrderConfig, brokerage ports.Brokerage, trades ports.TradeRepository, logger ports.Logger, clock ports.Clock) *OrderManager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &OrderManager{cfg: cfg, brokerage: brokerage, trades: trades, logger: logger, clock: clock}
}

// entryTrigger returns the marketable limit price for a breakout entry: the
// buffered range bound, at least MinLimitOffset away from the raw bound.
func (m *OrderManager) entryTrigger(rng *domain.OpeningRange, direction domain.Direction) float64 {
	if direction == domain.Long {
		offset := math.Max(m.cfg.MinLimitOffset, rng.High*m.cfg.BreakoutBuffer)
		return rng.High + offset
	}
	offset := math.Max(m.cfg.MinLimitOffset, rng.Low*m.cfg.BreakoutBuffer)
	return rng.Low - offset
}

// trancheQuantities sizes the position and splits it into three tranches,
// remainder on the last. Sizing is allocation/slots unless an explicit
// per-symbol value is configured, always clamped to buying power.
func (m *OrderManager) trancheQuantities(account *domain.Account, entryPrice float64) ([3]int64, error) {
	var quantities [3]int64

	value := m.cfg.PositionValue
	if value <= 0 {
		value = account.PortfolioValue * m.cfg.PositionSizeRate / float64(m.cfg.SlotCount)
	}
	if value > account.BuyingPower {
		value = account.BuyingPower
	}
	if entryPrice <= 0 {
		return quantities, fmt.Errorf("%w: entry price %.2f", ports.ErrConfigurationError, entryPrice)
	}

	total := int64(math.Floor(value / entryPrice))
	if total < 1 {
		return quantities, fmt.Errorf("%w: %.2f buys no shares at %.2f", ports.ErrInsufficientFunds, value, entryPrice)
	}

	per := total / 3
	quantities = [3]int64{per, per, per + total%3}
	return quantities, nil
}

// SubmitBracketSet sizes the position and submits one entry limit order per
// tranche. Protective legs are attached later, when the entry fills.
func (m *OrderManager) SubmitBracketSet(ctx context.Context, session *domain.Session) error {
	account, err := m.brokerage.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account for sizing: %w", err)
	}

	entryPrice := m.entryTrigger(session.Range, session.Direction)
	quantities, err := m.trancheQuantities(account, entryPrice)
	if err != nil {
		return err
	}

	side := domain.Buy
	if session.Direction == domain.Short {
		side = domain.Sell
	}

	for i := 0; i < 3; i++ {
		if quantities[i] == 0 {
			continue
		}
		tranche := &domain.Tranche{
			ID:            i + 1,
			EntryPrice:    entryPrice,
			StopPrice:     protectivePrice(entryPrice, m.cfg.StopRates[i], session.Direction, false),
			TargetPrice:   protectivePrice(entryPrice, m.cfg.ProfitRates[i], session.Direction, true),
			Quantity:      quantities[i],
			State:         domain.TranchePending,
			SwingEligible: i == 2,
		}

		order, err := m.brokerage.SubmitOrder(ctx, ports.OrderRequest{
			Symbol:        session.Symbol,
			Qty:           tranche.Quantity,
			Side:          side,
			Type:          ports.OrderTypeLimit,
			LimitPrice:    entryPrice,
			ClientOrderID: uuid.NewString(),
			TimeInForce:   "day",
		})
		if err != nil {
			metrics.OrderFailed("SubmitEntry")
			m.cancelEntries(ctx, session)
			return fmt.Errorf("failed to submit entry for %s tranche %d: %w", session.Symbol, tranche.ID, err)
		}

		tranche.EntryOrderID = order.ID
		tranche.State = domain.TrancheWorking
		session.Tranches = append(session.Tranches, tranche)
		metrics.OrderSubmitted(session.Symbol, string(side))
		metrics.TrancheOpened()

		m.logger.Info(ctx, "Entry submitted", map[string]interface{}{
			"symbol":  session.Symbol,
			"tranche": tranche.ID,
			"qty":     tranche.Quantity,
			"entry":   tranche.EntryPrice,
			"stop":    tranche.StopPrice,
			"target":  tranche.TargetPrice,
		})
	}
	return nil
}

// protectivePrice computes a stop or target price from the entry and a rate.
func protectivePrice(entry, rate float64, direction domain.Direction, isTarget bool) float64 {
	away := rate
	if (direction == domain.Long) != isTarget {
		away = -rate
	}
	return entry * (1 + away)
}

// OnEntryFill marks the tranche filled and attaches the protective stop and
// target legs as one broker-linked pair: filling either leg cancels the
// sibling at the brokerage. If the pair cannot be attached the tranche is
// flattened immediately and ErrUnprotectedPosition is returned; a position is
// never left working without its brackets.
func (m *OrderManager) OnEntryFill(ctx context.Context, session *domain.Session, tranche *domain.Tranche, entry *ports.Order) error {
	if entry.FilledAvgPrice > 0 {
		tranche.EntryPrice = entry.FilledAvgPrice
		tranche.StopPrice = protectivePrice(tranche.EntryPrice, m.cfg.StopRates[tranche.ID-1], session.Direction, false)
		tranche.TargetPrice = protectivePrice(tranche.EntryPrice, m.cfg.ProfitRates[tranche.ID-1], session.Direction, true)
	}
	tranche.FilledAt = entry.FilledAt
	if tranche.FilledAt.IsZero() {
		tranche.FilledAt = m.clock.Now()
	}
	tranche.State = domain.TrancheFilled

	pair, err := m.brokerage.SubmitExitPair(ctx, ports.ExitPairRequest{
		Symbol:        session.Symbol,
		Qty:           tranche.Quantity,
		Side:          exitSide(session.Direction),
		TargetPrice:   tranche.TargetPrice,
		StopPrice:     tranche.StopPrice,
		ClientOrderID: uuid.NewString(),
		TimeInForce:   "gtc",
	})
	if err != nil {
		metrics.OrderFailed("SubmitExitPair")
		return m.flattenUnprotected(ctx, session, tranche, err)
	}
	tranche.StopOrderID = pair.Stop.ID
	tranche.TargetOrderID = pair.Target.ID

	m.logger.Info(ctx, "Protective legs attached", map[string]interface{}{
		"symbol":  session.Symbol,
		"tranche": tranche.ID,
		"stop":    tranche.StopPrice,
		"target":  tranche.TargetPrice,
	})
	return nil
}

// flattenUnprotected market-closes a tranche whose protective legs could not
// be attached.
func (m *OrderManager) flattenUnprotected(ctx context.Context, session *domain.Session, tranche *domain.Tranche, cause error) error {
	metrics.UnprotectedAlerted()
	m.logger.Error(ctx, cause, "Protective leg failed, flattening tranche", map[string]interface{}{
		"symbol":  session.Symbol,
		"tranche": tranche.ID,
	})

	exit, closeErr := m.brokerage.ClosePosition(ctx, session.Symbol, tranche.Quantity)
	if closeErr != nil {
		// The position is live and unhedged; surface loudly and leave the
		// tranche open so the monitor keeps trying.
		m.logger.Error(ctx, closeErr, "EMERGENCY: failed to flatten unprotected tranche", map[string]interface{}{
			"symbol":  session.Symbol,
			"tranche": tranche.ID,
			"qty":     tranche.Quantity,
		})
		return fmt.Errorf("%w: flatten failed for %s tranche %d: %v", ports.ErrUnprotectedPosition, session.Symbol, tranche.ID, closeErr)
	}

	exitPrice := exit.FilledAvgPrice
	if exitPrice == 0 {
		exitPrice = tranche.EntryPrice
	}
	m.closeTranche(ctx, session, tranche, domain.TrancheStoppedOut, domain.CloseReasonUnprotected, exitPrice)
	return fmt.Errorf("%w: %s tranche %d flattened: %v", ports.ErrUnprotectedPosition, session.Symbol, tranche.ID, cause)
}

// RaiseStopsToEntry moves the stops of still-open later tranches up to their
// entry price once the first tranche banks its target, making the remainder
// of the session risk free. The legs are linked at the broker, so raising a
// stop means replacing the whole pair.
func (m *OrderManager) RaiseStopsToEntry(ctx context.Context, session *domain.Session) {
	for _, tranche := range session.Tranches {
		if tranche.ID == 1 || tranche.State != domain.TrancheFilled {
			continue
		}
		alreadyAtEntry := session.Direction == domain.Long && tranche.StopPrice >= tranche.EntryPrice ||
			session.Direction == domain.Short && tranche.StopPrice <= tranche.EntryPrice
		if alreadyAtEntry {
			continue
		}

		m.cancelLegs(ctx, session, tranche)
		tranche.StopOrderID = ""
		tranche.TargetOrderID = ""

		pair, err := m.brokerage.SubmitExitPair(ctx, ports.ExitPairRequest{
			Symbol:        session.Symbol,
			Qty:           tranche.Quantity,
			Side:          exitSide(session.Direction),
			TargetPrice:   tranche.TargetPrice,
			StopPrice:     tranche.EntryPrice,
			ClientOrderID: uuid.NewString(),
			TimeInForce:   "gtc",
		})
		if err != nil {
			metrics.OrderFailed("RaiseStop")
			_ = m.flattenUnprotected(ctx, session, tranche, err)
			continue
		}
		tranche.StopOrderID = pair.Stop.ID
		tranche.TargetOrderID = pair.Target.ID
		tranche.StopPrice = tranche.EntryPrice

		m.logger.Info(ctx, "Stop raised to entry", map[string]interface{}{
			"symbol": session.Symbol, "tranche": tranche.ID, "stop": tranche.StopPrice,
		})
	}
}

// exitSide returns the order side that flattens a position in direction.
func exitSide(direction domain.Direction) domain.OrderSide {
	if direction == domain.Short {
		return domain.Buy
	}
	return domain.Sell
}

// ForceClose cancels a filled tranche's working legs and market-closes it.
func (m *OrderManager) ForceClose(ctx context.Context, session *domain.Session, tranche *domain.Tranche, reason domain.CloseReason) error {
	m.cancelLegs(ctx, session, tranche)

	exit, err := m.brokerage.ClosePosition(ctx, session.Symbol, tranche.Quantity)
	if err != nil {
		metrics.OrderFailed("ForceClose")
		return fmt.Errorf("failed to force close %s tranche %d: %w", session.Symbol, tranche.ID, err)
	}

	exitPrice := exit.FilledAvgPrice
	if exitPrice == 0 {
		if latest, priceErr := m.brokerage.GetLatestPrice(ctx, session.Symbol); priceErr == nil {
			exitPrice = latest
		} else {
			exitPrice = tranche.EntryPrice
		}
	}
	m.closeTranche(ctx, session, tranche, domain.TrancheStoppedOut, reason, exitPrice)
	return nil
}

// CancelPartialFill handles an entry that filled part of its quantity before
// being withdrawn: it cancels the remainder and market-closes the shares that
// did fill, so no position is left behind when the tranche goes terminal. If
// the flatten fails the tranche is left working and ErrUnprotectedPosition is
// returned so the monitor keeps retrying.
func (m *OrderManager) CancelPartialFill(ctx context.Context, session *domain.Session, tranche *domain.Tranche, entry *ports.Order) error {
	if tranche.EntryOrderID != "" {
		if err := m.brokerage.CancelOrder(ctx, tranche.EntryOrderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			m.logger.Error(ctx, err, "Failed to cancel partially filled entry", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID,
			})
		}
	}

	exit, err := m.brokerage.ClosePosition(ctx, session.Symbol, entry.FilledQty)
	if err != nil {
		metrics.UnprotectedAlerted()
		m.logger.Error(ctx, err, "EMERGENCY: failed to flatten partial entry fill", map[string]interface{}{
			"symbol":  session.Symbol,
			"tranche": tranche.ID,
			"qty":     entry.FilledQty,
		})
		return fmt.Errorf("%w: partial fill flatten failed for %s tranche %d: %v", ports.ErrUnprotectedPosition, session.Symbol, tranche.ID, err)
	}

	tranche.Quantity = entry.FilledQty
	if entry.FilledAvgPrice > 0 {
		tranche.EntryPrice = entry.FilledAvgPrice
	}
	tranche.FilledAt = entry.FilledAt
	if tranche.FilledAt.IsZero() {
		tranche.FilledAt = m.clock.Now()
	}

	exitPrice := exit.FilledAvgPrice
	if exitPrice == 0 {
		exitPrice = tranche.EntryPrice
	}
	m.logger.Warn(ctx, "Partial entry fill flattened", map[string]interface{}{
		"symbol":  session.Symbol,
		"tranche": tranche.ID,
		"qty":     entry.FilledQty,
	})
	m.closeTranche(ctx, session, tranche, domain.TrancheCancelled, domain.CloseReasonUnprotected, exitPrice)
	return nil
}

// CancelTranche cancels a tranche whose entry never filled.
func (m *OrderManager) CancelTranche(ctx context.Context, session *domain.Session, tranche *domain.Tranche) {
	if tranche.EntryOrderID != "" {
		if err := m.brokerage.CancelOrder(ctx, tranche.EntryOrderID); err != nil {
			m.logger.Error(ctx, err, "Failed to cancel unfilled entry", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID,
			})
		}
	}
	tranche.State = domain.TrancheCancelled
	tranche.ClosedAt = m.clock.Now()
	tranche.CloseReason = domain.CloseReasonUnknown
	metrics.TrancheClosed()
}

// SettleExit finalizes a tranche whose stop or target leg filled, canceling
// the surviving sibling leg.
func (m *OrderManager) SettleExit(ctx context.Context, session *domain.Session, tranche *domain.Tranche, filled *ports.Order) {
	state := domain.TrancheStoppedOut
	reason := domain.CloseReasonStop
	survivor := tranche.TargetOrderID
	if filled.ID == tranche.TargetOrderID {
		state = domain.TrancheTargetHit
		reason = domain.CloseReasonTarget
		survivor = tranche.StopOrderID
	}

	// The broker cancels the sibling itself when one leg of the pair fills;
	// this cancel is a backstop and a missing order just means the broker got
	// there first.
	if survivor != "" {
		if err := m.brokerage.CancelOrder(ctx, survivor); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			m.logger.Error(ctx, err, "Failed to cancel surviving leg", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID, "order_id": survivor,
			})
		}
	}

	exitPrice := filled.FilledAvgPrice
	if exitPrice == 0 {
		if filled.ID == tranche.TargetOrderID {
			exitPrice = tranche.TargetPrice
		} else {
			exitPrice = tranche.StopPrice
		}
	}
	m.closeTranche(ctx, session, tranche, state, reason, exitPrice)
}

// closeTranche records the exit and persists the completed trade.
func (m *OrderManager) closeTranche(ctx context.Context, session *domain.Session, tranche *domain.Tranche, state domain.TrancheState, reason domain.CloseReason, exitPrice float64) {
	tranche.State = state
	tranche.CloseReason = reason
	tranche.ExitPrice = exitPrice
	tranche.ClosedAt = m.clock.Now()
	metrics.TrancheExit(string(reason))
	metrics.TrancheClosed()

	pnl := float64(tranche.Quantity) * (exitPrice - tranche.EntryPrice)
	if session.Direction == domain.Short {
		pnl = -pnl
	}
	if _, err := m.trades.RecordTrade(ctx, &domain.Trade{
		Symbol:      session.Symbol,
		TrancheID:   tranche.ID,
		EntryPrice:  tranche.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    tranche.Quantity,
		PnL:         pnl,
		EntryTime:   tranche.FilledAt,
		ExitTime:    tranche.ClosedAt,
		CloseReason: reason,
	}); err != nil {
		m.logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{
			"symbol": session.Symbol, "tranche": tranche.ID,
		})
	}

	m.logger.Info(ctx, "Tranche closed", map[string]interface{}{
		"symbol":  session.Symbol,
		"tranche": tranche.ID,
		"reason":  reason,
		"exit":    exitPrice,
		"pnl":     pnl,
	})
}

// cancelLegs cancels the working stop and target legs of a filled tranche.
// An already-gone leg is expected when the broker resolved the pair itself.
func (m *OrderManager) cancelLegs(ctx context.Context, session *domain.Session, tranche *domain.Tranche) {
	for _, orderID := range []string{tranche.StopOrderID, tranche.TargetOrderID} {
		if orderID == "" {
			continue
		}
		if err := m.brokerage.CancelOrder(ctx, orderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			m.logger.Error(ctx, err, "Failed to cancel protective leg", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID, "order_id": orderID,
			})
		}
	}
}

// cancelEntries unwinds already submitted entries after a mid-set failure.
func (m *OrderManager) cancelEntries(ctx context.Context, session *domain.Session) {
	for _, tranche := range session.Tranches {
		if tranche.State == domain.TrancheWorking {
			m.CancelTranche(ctx, session, tranche)
		}
	}
}
