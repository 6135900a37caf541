// Package metrics exposes Prometheus instrumentation for the trading engine:
//
//	orb_orders_submitted_total{symbol,side}   – orders accepted by the brokerage
//	orb_order_failures_total{op}              – failed order operations
//	orb_tranche_exits_total{reason}           – tranche exits split by reason
//	orb_breaker_state{provider}               – 0 closed, 1 half-open, 2 open
//	orb_call_retries_total{provider}          – gateway retry attempts
//	orb_gate_verdicts_total{verdict}          – risk gate outcomes (permit|block)
//	orb_open_tranches                         – tranches currently open (gauge)
//	orb_unprotected_alerts_total              – bracket-leg failures leaving capital unhedged
//
// Registered in init() and served at /metrics when a listen address is set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_orders_submitted_total",
			Help: "Orders accepted by the brokerage",
		},
		[]string{"symbol", "side"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_order_failures_total",
			Help: "Failed order operations by operation name",
		},
		[]string{"op"},
	)

	trancheExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_tranche_exits_total",
			Help: "Tranche exits split by close reason",
		},
		[]string{"reason"},
	)

	// One labeled series per provider; 0 closed, 1 half-open, 2 open.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orb_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	callRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_call_retries_total",
			Help: "Gateway retry attempts per provider",
		},
		[]string{"provider"},
	)

	gateVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orb_gate_verdicts_total",
			Help: "Risk gate outcomes",
		},
		[]string{"verdict"}, // permit|block
	)

	openTranches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orb_open_tranches",
			Help: "Tranches currently open across all sessions",
		},
	)

	unprotectedAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orb_unprotected_alerts_total",
			Help: "Bracket leg failures that left a position unhedged",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersSubmitted, orderFailures, trancheExits)
	prometheus.MustRegister(breakerState, callRetries)
	prometheus.MustRegister(gateVerdicts, openTranches, unprotectedAlerts)
}

func OrderSubmitted(symbol, side string) { ordersSubmitted.WithLabelValues(symbol, side).Inc() }

func OrderFailed(op string) { orderFailures.WithLabelValues(op).Inc() }

func TrancheExit(reason string) { trancheExits.WithLabelValues(reason).Inc() }
func SetBreakerState(provider string, state float64) {
	breakerState.WithLabelValues(provider).Set(state)
}
func CallRetried(provider string) { callRetries.WithLabelValues(provider).Inc() }

func GateVerdict(permitted bool) {
	if permitted {
		gateVerdicts.WithLabelValues("permit").Inc()
	} else {
		gateVerdicts.WithLabelValues("block").Inc()
	}
}
func TrancheOpened()      { openTranches.Inc() }
func TrancheClosed()      { openTranches.Dec() }
func UnprotectedAlerted() { unprotectedAlerts.Inc() }

// Serve starts the metrics listener on addr. The returned server can be shut
// down by the caller; ListenAndServe errors are reported on the channel.
func Serve(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
