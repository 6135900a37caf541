package overrides

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// Poller periodically executes PENDING override rows against the brokerage
// and writes the outcome back to the channel.
type Poller struct {
	channel  ports.OverrideChannel
	broker   ports.Brokerage
	logger   ports.Logger
	interval time.Duration
}

// NewPoller wires a poller. interval must be positive.
func NewPoller(channel ports.OverrideChannel, broker ports.Brokerage, logger ports.Logger, interval time.Duration) (*Poller, error) {
	if channel == nil || broker == nil || logger == nil {
		return nil, fmt.Errorf("%w: override poller requires channel, brokerage and logger", ports.ErrConfigurationError)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: override poll interval must be positive", ports.ErrConfigurationError)
	}
	return &Poller{channel: channel, broker: broker, logger: logger, interval: interval}, nil
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes every currently pending row.
func (p *Poller) RunOnce(ctx context.Context) {
	rows, err := p.channel.Pending(ctx)
	if err != nil {
		p.logger.Error(ctx, err, "Failed to read override channel")
		return
	}

	for _, row := range rows {
		status := ports.OverrideStatusCompleted
		if err := p.execute(ctx, row); err != nil {
			p.logger.Error(ctx, err, "Override row failed",
				map[string]interface{}{"row": row.ID, "symbol": row.Symbol, "action": row.Action})
			status = "ERROR: " + err.Error()
		} else {
			p.logger.Info(ctx, "Override row executed",
				map[string]interface{}{"row": row.ID, "symbol": row.Symbol, "action": row.Action, "qty": row.Qty})
		}
		if err := p.channel.SetStatus(ctx, row.ID, status); err != nil {
			p.logger.Error(ctx, err, "Failed to write override row status",
				map[string]interface{}{"row": row.ID})
		}
	}
}

func (p *Poller) execute(ctx context.Context, row ports.OverrideRow) error {
	switch row.Action {
	case "BUY":
		return p.submit(ctx, row, domain.Buy)
	case "SELL":
		return p.submit(ctx, row, domain.Sell)
	case "CLOSE":
		_, err := p.broker.ClosePosition(ctx, row.Symbol, row.Qty)
		return err
	default:
		return fmt.Errorf("%w: unknown override action %q", ports.ErrPermanentRequest, row.Action)
	}
}

func (p *Poller) submit(ctx context.Context, row ports.OverrideRow, side domain.OrderSide) error {
	if row.Qty <= 0 {
		return fmt.Errorf("%w: %s requires a positive qty", ports.ErrPermanentRequest, row.Action)
	}
	req := ports.OrderRequest{
		Symbol:        row.Symbol,
		Qty:           row.Qty,
		Side:          side,
		Type:          ports.OrderTypeMarket,
		ClientOrderID: uuid.NewString(),
		TimeInForce:   "day",
	}
	if row.Price > 0 {
		req.Type = ports.OrderTypeLimit
		req.LimitPrice = row.Price
	}
	_, err := p.broker.SubmitOrder(ctx, req)
	return err
}
