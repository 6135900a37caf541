package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := New(Config{
		APIKey:    "key",
		SecretKey: "secret",
		BaseURL:   srv.URL,
		DataURL:   srv.URL,
		Logger:    nopLogger{},
	})
	require.NoError(t, err)
	return client, srv
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", DataURL: "http://x", Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSubmitOrder_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AAPL", body["symbol"])
		assert.Equal(t, "buy", body["side"])
		assert.Equal(t, "102.61", body["limit_price"])

		json.NewEncoder(w).Encode(alpacaOrder{
			ID:            "oid-1",
			ClientOrderID: body["client_order_id"].(string),
			Symbol:        "AAPL",
			Side:          "buy",
			Type:          "limit",
			Qty:           "14",
			LimitPrice:    "102.61",
			Status:        "accepted",
		})
	}))

	order, err := client.SubmitOrder(context.Background(), ports.OrderRequest{
		Symbol:        "AAPL",
		Qty:           14,
		Side:          domain.Buy,
		Type:          ports.OrderTypeLimit,
		LimitPrice:    102.612,
		ClientOrderID: "cid-1",
		TimeInForce:   "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "oid-1", order.ID)
	assert.Equal(t, int64(14), order.Qty)
	assert.Equal(t, ports.OrderStatusAccepted, order.Status)
}

func TestSubmitOrder_DuplicateClientIDReturnsOriginal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/orders":
			w.WriteHeader(422)
			w.Write([]byte(`{"message":"client_order_id must be unique"}`))
		case "/v2/orders:by_client_order_id":
			assert.Equal(t, "cid-1", r.URL.Query().Get("client_order_id"))
			json.NewEncoder(w).Encode(alpacaOrder{ID: "oid-original", ClientOrderID: "cid-1", Side: "buy", Status: "accepted"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := client.SubmitOrder(context.Background(), ports.OrderRequest{
		Symbol:        "AAPL",
		Qty:           14,
		Side:          domain.Buy,
		Type:          ports.OrderTypeLimit,
		LimitPrice:    102.612,
		ClientOrderID: "cid-1",
		TimeInForce:   "day",
	})
	require.NoError(t, err)
	assert.Equal(t, "oid-original", order.ID)
}

func TestSubmitExitPair_LinksLegsAtBroker(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AAPL", body["symbol"])
		assert.Equal(t, "sell", body["side"])
		assert.Equal(t, "oco", body["order_class"])
		assert.Equal(t, "limit", body["type"])
		assert.Equal(t, "104.70", body["limit_price"])
		stopLoss, ok := body["stop_loss"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "101.11", stopLoss["stop_price"])

		json.NewEncoder(w).Encode(alpacaOrder{
			ID:            "oid-parent",
			ClientOrderID: body["client_order_id"].(string),
			Symbol:        "AAPL",
			Side:          "sell",
			Type:          "limit",
			Qty:           "14",
			LimitPrice:    "104.70",
			Status:        "accepted",
			Legs: []alpacaOrder{{
				ID:        "oid-stop",
				Symbol:    "AAPL",
				Side:      "sell",
				Type:      "stop",
				Qty:       "14",
				StopPrice: "101.11",
				Status:    "accepted",
			}},
		})
	}))

	pair, err := client.SubmitExitPair(context.Background(), ports.ExitPairRequest{
		Symbol:        "AAPL",
		Qty:           14,
		Side:          domain.Sell,
		TargetPrice:   104.703,
		StopPrice:     101.11,
		ClientOrderID: "cid-pair",
		TimeInForce:   "gtc",
	})
	require.NoError(t, err)
	assert.Equal(t, "oid-parent", pair.Target.ID)
	assert.Equal(t, "oid-stop", pair.Stop.ID)
	assert.Equal(t, ports.OrderTypeStop, pair.Stop.Type)
}

func TestSubmitExitPair_MissingStopLegIsAmbiguous(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(alpacaOrder{ID: "oid-parent", Symbol: "AAPL", Side: "sell", Type: "limit", Status: "accepted"})
	}))

	_, err := client.SubmitExitPair(context.Background(), ports.ExitPairRequest{
		Symbol: "AAPL", Qty: 14, Side: domain.Sell, TargetPrice: 104.7, StopPrice: 101.11,
		ClientOrderID: "cid-pair", TimeInForce: "gtc",
	})
	assert.ErrorIs(t, err, ports.ErrSubmissionAmbiguous)
}

func TestSubmitExitPair_DuplicateClientIDReturnsOriginal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/orders" && r.Method == http.MethodPost:
			w.WriteHeader(422)
			w.Write([]byte(`{"message":"client_order_id must be unique"}`))
		case r.URL.Path == "/v2/orders:by_client_order_id":
			assert.Equal(t, "cid-pair", r.URL.Query().Get("client_order_id"))
			json.NewEncoder(w).Encode(alpacaOrder{ID: "oid-parent", ClientOrderID: "cid-pair", Side: "sell", Type: "limit", Status: "accepted"})
		case r.URL.Path == "/v2/orders/oid-parent":
			assert.Equal(t, "true", r.URL.Query().Get("nested"))
			json.NewEncoder(w).Encode(alpacaOrder{
				ID: "oid-parent", ClientOrderID: "cid-pair", Side: "sell", Type: "limit", Status: "accepted",
				Legs: []alpacaOrder{{ID: "oid-stop", Side: "sell", Type: "stop", Status: "accepted"}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	pair, err := client.SubmitExitPair(context.Background(), ports.ExitPairRequest{
		Symbol: "AAPL", Qty: 14, Side: domain.Sell, TargetPrice: 104.7, StopPrice: 101.11,
		ClientOrderID: "cid-pair", TimeInForce: "gtc",
	})
	require.NoError(t, err)
	assert.Equal(t, "oid-parent", pair.Target.ID)
	assert.Equal(t, "oid-stop", pair.Stop.ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   http.Header
		expected error
	}{
		{"server error is transient", 500, nil, ports.ErrTransientProvider},
		{"validation error is permanent", 422, nil, ports.ErrPermanentRequest},
		{"rate limit", 429, http.Header{"Retry-After": []string{"7"}}, ports.ErrRateLimited},
		{"forbidden maps to funds", 403, nil, ports.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vs := range tt.header {
					for _, v := range vs {
						w.Header().Set(k, v)
					}
				}
				w.WriteHeader(tt.status)
			}))

			_, err := client.GetAccount(context.Background())
			assert.ErrorIs(t, err, tt.expected)

			if tt.status == 429 {
				var rl *ports.RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
			}
		})
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	err := client.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestGetBars_FollowsPagination(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		calls++
		if calls == 1 {
			assert.Empty(t, r.URL.Query().Get("page_token"))
			w.Write([]byte(`{"bars":[{"t":"2024-06-03T13:30:00Z","o":100,"h":101,"l":99.5,"c":100.5,"v":1000}],"next_page_token":"tok"}`))
			return
		}
		assert.Equal(t, "tok", r.URL.Query().Get("page_token"))
		w.Write([]byte(`{"bars":[{"t":"2024-06-03T13:31:00Z","o":100.5,"h":102,"l":100.4,"c":101,"v":900}],"next_page_token":null}`))
	}))

	start := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	bars, err := client.GetBars(context.Background(), "AAPL", "1Min", start, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 101.0, bars[0].High)
	assert.Equal(t, "AAPL", bars[1].Symbol)
}

func TestGetLatestPrice(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/trades/latest", r.URL.Path)
		w.Write([]byte(`{"trade":{"p":102.65}}`))
	}))

	price, err := client.GetLatestPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 102.65, price)
}

func TestListFills_PagesAndMaps(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account/activities/FILL", r.URL.Path)
		calls++
		if calls == 1 {
			w.Write([]byte(`[{"id":"a1","activity_type":"FILL","transaction_time":"2024-06-03T14:00:00Z","symbol":"AAPL","side":"buy","qty":"10","price":"100"}]`))
			return
		}
		assert.Equal(t, "a1", r.URL.Query().Get("page_token"))
		w.Write([]byte(`[]`))
	}))

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fills, err := client.ListFills(context.Background(), start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.Buy, fills[0].Side)
	assert.Equal(t, int64(10), fills[0].Qty)
	assert.Equal(t, 100.0, fills[0].Price)
}

func TestListPositions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"AAPL","qty":"43","avg_entry_price":"102.65","market_value":"4500","unrealized_pl":"-25.5"}]`))
	}))

	positions, err := client.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -25.5, positions[0].UnrealizedPL)
}

func TestClosePosition_PassesQty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/positions/AAPL", r.URL.Path)
		assert.Equal(t, "14", r.URL.Query().Get("qty"))
		json.NewEncoder(w).Encode(alpacaOrder{ID: "oid-9", Symbol: "AAPL", Side: "sell", Qty: "14", Status: "accepted"})
	}))

	order, err := client.ClosePosition(context.Background(), "AAPL", 14)
	require.NoError(t, err)
	assert.Equal(t, "oid-9", order.ID)
}
