package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"orbtrader/internal/metrics"
	"orbtrader/internal/ports"
)

// Provider identifies an external service behind the gateway. Each provider
// gets its own circuit breaker and rate limiter, shared by every session.
type Provider string

const (
	ProviderBrokerage  Provider = "brokerage"
	ProviderMarketData Provider = "marketdata"
)

// Config holds the gateway's resilience tunables.
type Config struct {
	Logger ports.Logger
	Clock  ports.Clock

	FailureThreshold int           // consecutive failures before a breaker opens
	Cooldown         time.Duration // how long an open breaker rejects calls
	MaxAttempts      int           // total attempts per call, including the first
	RetryBase        time.Duration // first retry delay
	RetryFactor      float64       // delay growth factor
	RetryMaxDelay    time.Duration // cap on the retry delay
	CallTimeout      time.Duration // per-attempt timeout

	CallsPerSecond map[Provider]float64
}

// Gateway wraps every outbound call with rate limiting, a per-provider
// circuit breaker, a per-attempt timeout and bounded retry with exponential
// backoff. Callers only ever observe the standard error taxonomy.
type Gateway struct {
	cfg      Config
	logger   ports.Logger
	clock    ports.Clock
	breakers map[Provider]*CircuitBreaker
	limiters map[Provider]*rate.Limiter
}

// New creates a gateway with one breaker and limiter per configured provider.
func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for gateway")
	}
	if cfg.FailureThreshold <= 0 || cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w: failure threshold and max attempts must be positive", ports.ErrConfigurationError)
	}
	if cfg.RetryFactor < 1 {
		return nil, fmt.Errorf("%w: retry factor must be at least 1", ports.ErrConfigurationError)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   cfg.Logger,
		clock:    clock,
		breakers: make(map[Provider]*CircuitBreaker),
		limiters: make(map[Provider]*rate.Limiter),
	}
	for provider, cps := range cfg.CallsPerSecond {
		if cps <= 0 {
			return nil, fmt.Errorf("%w: calls per second for provider %q must be positive", ports.ErrConfigurationError, provider)
		}
		g.breakers[provider] = NewCircuitBreaker(string(provider), cfg.FailureThreshold, cfg.Cooldown, clock)
		burst := int(cps)
		if burst < 1 {
			burst = 1
		}
		g.limiters[provider] = rate.NewLimiter(rate.Limit(cps), burst)
	}
	return g, nil
}

// BreakerState returns the state of a provider's breaker.
func (g *Gateway) BreakerState(provider Provider) BreakerState {
	if b, ok := g.breakers[provider]; ok {
		return b.State()
	}
	return BreakerClosed
}

// Call executes fn behind the provider's rate limiter and circuit breaker.
// Transient failures are retried up to MaxAttempts with exponential backoff;
// permanent failures return immediately. Every outcome feeds the breaker.
func (g *Gateway) Call(ctx context.Context, provider Provider, op string, fn func(ctx context.Context) error) error {
	breaker, ok := g.breakers[provider]
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", ports.ErrConfigurationError, provider)
	}
	limiter := g.limiters[provider]

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
	}

	bo := &backoff.Backoff{
		Min:    g.cfg.RetryBase,
		Max:    g.cfg.RetryMaxDelay,
		Factor: g.cfg.RetryFactor,
		Jitter: false,
	}

	var err error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if allowErr := breaker.Allow(); allowErr != nil {
			metrics.SetBreakerState(string(provider), breaker.stateGaugeValue())
			return fmt.Errorf("%s: %w", op, allowErr)
		}

		err = g.attempt(ctx, fn)
		if err == nil {
			breaker.RecordSuccess()
			metrics.SetBreakerState(string(provider), breaker.stateGaugeValue())
			return nil
		}

		breaker.RecordFailure()
		metrics.SetBreakerState(string(provider), breaker.stateGaugeValue())

		if !ports.IsTransient(err) {
			// Permanent request errors are surfaced immediately, no retry.
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt == g.cfg.MaxAttempts-1 {
			break
		}

		delay := bo.Duration()
		// A 429 carries the provider's retry hint; honour it when it asks
		// for more than the computed backoff.
		var rlErr *ports.RateLimitError
		if errors.As(err, &rlErr) && rlErr.RetryAfter > delay {
			delay = rlErr.RetryAfter
		}
		metrics.CallRetried(string(provider))
		g.logger.Warn(ctx, "Transient failure, retrying", map[string]interface{}{
			"provider": provider,
			"op":       op,
			"attempt":  attempt + 1,
			"delay":    delay.String(),
			"error":    err.Error(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, g.cfg.MaxAttempts, err)
}

// attempt runs fn under the per-call timeout and normalizes timeout errors.
func (g *Gateway) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ports.ErrTimeout, err)
	}
	return err
}
