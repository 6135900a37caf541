package overrides

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeBroker struct {
	submitted []ports.OrderRequest
	closes    []string
	submitErr error
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.Order, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &ports.Order{ID: "oid", Status: ports.OrderStatusAccepted}, nil
}
func (f *fakeBroker) SubmitExitPair(ctx context.Context, req ports.ExitPairRequest) (*ports.ExitPair, error) {
	return nil, ports.ErrPermanentRequest
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeBroker) GetOrder(ctx context.Context, orderID string) (*ports.Order, error) {
	return nil, ports.ErrOrderNotFound
}
func (f *fakeBroker) ListOrders(ctx context.Context, status ports.OrderStatus, limit int) ([]*ports.Order, error) {
	return nil, nil
}
func (f *fakeBroker) GetAccount(ctx context.Context) (*domain.Account, error) { return nil, nil }
func (f *fakeBroker) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}
func (f *fakeBroker) ClosePosition(ctx context.Context, symbol string, qty int64) (*ports.Order, error) {
	f.closes = append(f.closes, symbol)
	return &ports.Order{ID: "oid-close"}, nil
}
func (f *fakeBroker) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error) {
	return nil, nil
}
func (f *fakeBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
func (f *fakeBroker) ListFills(ctx context.Context, start, end time.Time) ([]*domain.Fill, error) {
	return nil, nil
}

func writeOverrideFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCSVChannel_PendingFiltersByStatus(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\n"+
		"aapl,buy,10,0,PENDING\n"+
		"MSFT,CLOSE,0,0,COMPLETED\n"+
		"TSLA,SELL,5,250.5,pending\n")

	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)

	rows, err := channel.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, "BUY", rows[0].Action)
	assert.Equal(t, 3, rows[1].ID)
	assert.Equal(t, 250.5, rows[1].Price)
}

func TestCSVChannel_MissingFileHasNoPendingRows(t *testing.T) {
	channel, err := NewCSVChannel(filepath.Join(t.TempDir(), "absent.csv"), nopLogger{})
	require.NoError(t, err)

	rows, err := channel.Pending(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCSVChannel_SetStatusRewritesSingleRow(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\n"+
		"AAPL,BUY,10,0,PENDING\n"+
		"MSFT,SELL,5,0,PENDING\n")

	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, channel.SetStatus(context.Background(), 1, ports.OverrideStatusCompleted))

	rows, err := channel.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "MSFT", rows[0].Symbol)
}

func TestCSVChannel_SetStatusUnknownRow(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\nAAPL,BUY,10,0,PENDING\n")
	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)

	err = channel.SetStatus(context.Background(), 9, ports.OverrideStatusFailed)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestPoller_ExecutesPendingRows(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\n"+
		"AAPL,BUY,10,101.5,PENDING\n"+
		"MSFT,CLOSE,0,0,PENDING\n")

	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)
	broker := &fakeBroker{}
	poller, err := NewPoller(channel, broker, nopLogger{}, time.Minute)
	require.NoError(t, err)

	poller.RunOnce(context.Background())

	require.Len(t, broker.submitted, 1)
	assert.Equal(t, domain.Buy, broker.submitted[0].Side)
	assert.Equal(t, ports.OrderTypeLimit, broker.submitted[0].Type)
	assert.Equal(t, 101.5, broker.submitted[0].LimitPrice)
	assert.NotEmpty(t, broker.submitted[0].ClientOrderID)
	assert.Equal(t, []string{"MSFT"}, broker.closes)

	rows, err := channel.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows, "executed rows should no longer be pending")
}

func TestPoller_FailureWritesErrorStatus(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\nAAPL,BUY,10,0,PENDING\n")

	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)
	broker := &fakeBroker{submitErr: errors.New("account restricted")}
	poller, err := NewPoller(channel, broker, nopLogger{}, time.Minute)
	require.NoError(t, err)

	poller.RunOnce(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ERROR: account restricted")
}

func TestPoller_UnknownActionFails(t *testing.T) {
	path := writeOverrideFile(t, "symbol,action,qty,price,status\nAAPL,SHORT,10,0,PENDING\n")

	channel, err := NewCSVChannel(path, nopLogger{})
	require.NoError(t, err)
	broker := &fakeBroker{}
	poller, err := NewPoller(channel, broker, nopLogger{}, time.Minute)
	require.NoError(t, err)

	poller.RunOnce(context.Background())

	assert.Empty(t, broker.submitted)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ERROR:")
}
