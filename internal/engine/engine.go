package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// TradingGate vetoes new sessions. Satisfied by risk.Gate.
type TradingGate interface {
	IsTradingPermitted(ctx context.Context) bool
}

// SessionConfig holds the session timing tunables.
type SessionConfig struct {
	MarketTimezone      string
	MarketOpen          string // "15:04"
	MarketClose         string // "15:04"
	OpeningRangeMinutes int
	EntryCutoff         time.Duration // measured from market open
	PollInterval        time.Duration
	SwingEnabled        bool
}

// Engine drives one opening range breakout session per symbol and day:
// risk gate, opening range, entry evaluation, brackets, monitoring and the
// optional swing handoff. Each symbol runs in its own worker; workers share
// only the gateway-wrapped adapters and the repositories.
type Engine struct {
	cfg       SessionConfig
	gate      TradingGate
	rangeCalc *RangeCalculator
	evaluator *EntryEvaluator
	orders    *OrderManager
	monitor   *Monitor
	swing     *SwingExtender
	logger    ports.Logger
	clock     ports.Clock
}

// New creates the trading engine. swing may be nil when continuation is
// disabled.
func New(cfg SessionConfig, gate TradingGate, rangeCalc *RangeCalculator, evaluator *EntryEvaluator, orders *OrderManager, monitor *Monitor, swing *SwingExtender, logger ports.Logger, clock ports.Clock) (*Engine, error) {
	if gate == nil || rangeCalc == nil || evaluator == nil || orders == nil || monitor == nil || logger == nil {
		return nil, fmt.Errorf("%w: engine requires gate, range calculator, evaluator, order manager, monitor and logger", ports.ErrConfigurationError)
	}
	if cfg.SwingEnabled && swing == nil {
		return nil, fmt.Errorf("%w: swing continuation enabled without a swing extender", ports.ErrConfigurationError)
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Engine{
		cfg:       cfg,
		gate:      gate,
		rangeCalc: rangeCalc,
		evaluator: evaluator,
		orders:    orders,
		monitor:   monitor,
		swing:     swing,
		logger:    logger,
		clock:     clock,
	}, nil
}

// RunAll runs one session per symbol concurrently and blocks until every
// worker returns. A failed session never takes down its siblings.
func (e *Engine) RunAll(ctx context.Context, symbols []string) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := e.Run(ctx, symbol); err != nil {
				e.logger.Error(ctx, err, "Session ended with error", map[string]interface{}{
					"symbol": symbol,
				})
			}
		}(symbol)
	}
	wg.Wait()
}

// Run executes today's session for one symbol.
func (e *Engine) Run(ctx context.Context, symbol string) error {
	if !e.gate.IsTradingPermitted(ctx) {
		return fmt.Errorf("session for %s: %w", symbol, ports.ErrRiskGateBlocked)
	}

	sessionOpen, sessionClose, err := e.sessionTimes()
	if err != nil {
		return err
	}
	rangeEnd := sessionOpen.Add(time.Duration(e.cfg.OpeningRangeMinutes) * time.Minute)
	entryCutoff := sessionOpen.Add(e.cfg.EntryCutoff)

	if err := e.waitUntil(ctx, rangeEnd); err != nil {
		return err
	}

	rng, err := e.rangeCalc.Compute(ctx, symbol, sessionOpen)
	if err != nil {
		return fmt.Errorf("session for %s aborted: %w", symbol, err)
	}

	session, err := e.seekEntry(ctx, symbol, rng, entryCutoff, sessionClose)
	if err != nil {
		return err
	}
	if session == nil {
		e.logger.Info(ctx, "No entry signal before cutoff", map[string]interface{}{"symbol": symbol})
		return nil
	}

	if err := e.monitor.Run(ctx, session); err != nil {
		return err
	}

	if e.cfg.SwingEnabled && len(session.OpenSwingTranches()) > 0 {
		e.logger.Info(ctx, "Handing session to swing continuation", map[string]interface{}{
			"symbol":   symbol,
			"tranches": len(session.OpenSwingTranches()),
		})
		return e.swing.Run(ctx, session)
	}
	return nil
}

// seekEntry polls entry conditions until a signal fires or the cutoff
// passes. On a signal it submits the bracket set and returns the session.
func (e *Engine) seekEntry(ctx context.Context, symbol string, rng *domain.OpeningRange, entryCutoff, sessionClose time.Time) (*domain.Session, error) {
	for e.clock.Now().Before(entryCutoff) {
		signal, price, err := e.evaluator.Evaluate(ctx, symbol, rng)
		if err != nil {
			e.logger.Warn(ctx, "Entry evaluation failed, retrying next poll", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
		} else if signal != domain.SignalNone {
			direction := domain.Long
			if signal == domain.SignalShort {
				direction = domain.Short
			}
			session := &domain.Session{
				Symbol:       symbol,
				Direction:    direction,
				Range:        rng,
				EntryCutoff:  entryCutoff,
				SessionClose: sessionClose,
			}
			e.logger.Info(ctx, "Breakout confirmed, submitting brackets", map[string]interface{}{
				"symbol":    symbol,
				"direction": direction,
				"price":     price,
			})
			if err := e.orders.SubmitBracketSet(ctx, session); err != nil {
				return nil, fmt.Errorf("bracket submission for %s: %w", symbol, err)
			}
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session for %s: %w", symbol, ports.ErrContextCanceled)
		case <-time.After(e.cfg.PollInterval):
		}
	}
	return nil, nil
}

// sessionTimes resolves today's open and close instants in the market
// timezone.
func (e *Engine) sessionTimes() (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(e.cfg.MarketTimezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid market timezone: %v", ports.ErrConfigurationError, err)
	}
	now := e.clock.Now().In(loc)

	open, err := atClockTime(now, e.cfg.MarketOpen, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid market open: %v", ports.ErrConfigurationError, err)
	}
	close_, err := atClockTime(now, e.cfg.MarketClose, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid market close: %v", ports.ErrConfigurationError, err)
	}
	return open, close_, nil
}

// atClockTime pins a "15:04" wall time onto day's date in loc.
func atClockTime(day time.Time, clockTime string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clockTime)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// waitUntil sleeps until t, honouring cancellation.
func (e *Engine) waitUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(e.clock.Now())
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ports.ErrContextCanceled
	case <-time.After(d):
		return nil
	}
}
