// Package eodhd implements the market data port against the EODHD REST API:
// daily price history for swing exits and index constituents for universe
// selection.
package eodhd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// Config holds the connection parameters for EODHD.
type Config struct {
	APIKey  string
	BaseURL string // e.g. https://eodhd.com
	Logger  ports.Logger
}

// Client talks to EODHD. It satisfies ports.MarketData.
type Client struct {
	rest   *resty.Client
	apiKey string
	logger ports.Logger
}

// New creates an EODHD client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: eodhd api key is required", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: eodhd base url is required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}

	rest := resty.New()
	rest.SetBaseURL(cfg.BaseURL)
	rest.SetRetryCount(0)

	return &Client{rest: rest, apiKey: cfg.APIKey, logger: cfg.Logger}, nil
}

type eodBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// mapHTTPError translates an HTTP failure into the standard taxonomy.
func mapHTTPError(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case status == 429:
		retryAfter := time.Duration(0)
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &ports.RateLimitError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("eodhd returned 429: %s", resp.String()),
		}
	case status >= 500:
		return fmt.Errorf("%w: eodhd returned %d: %s", ports.ErrTransientProvider, status, resp.String())
	case status == 404:
		return fmt.Errorf("%w: eodhd returned 404: %s", ports.ErrNotFound, resp.String())
	default:
		return fmt.Errorf("%w: eodhd returned %d: %s", ports.ErrPermanentRequest, status, resp.String())
	}
}

// GetHistoricalPrices retrieves daily bars for symbol, oldest first.
func (c *Client) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error) {
	var out []eodBar
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_token": c.apiKey,
			"fmt":       "json",
			"period":    "d",
			"from":      start.Format("2006-01-02"),
			"to":        end.Format("2006-01-02"),
		}).
		SetResult(&out).
		Get("/api/eod/" + symbol + ".US")
	if err != nil {
		return nil, fmt.Errorf("%w: GetHistoricalPrices: %v", ports.ErrTransientProvider, err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}

	bars := make([]*domain.Bar, 0, len(out))
	for _, b := range out {
		ts, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		bars = append(bars, &domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// GetIndexConstituents retrieves the member symbols of an index, e.g.
// "GSPC.INDX" for the S&P 500.
func (c *Client) GetIndexConstituents(ctx context.Context, indexCode string) ([]string, error) {
	// filter=Components returns the component map directly.
	var components map[string]struct {
		Code string `json:"Code"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_token": c.apiKey,
			"fmt":       "json",
			"filter":    "Components",
		}).
		SetResult(&components).
		Get("/api/fundamentals/" + indexCode)
	if err != nil {
		return nil, fmt.Errorf("%w: GetIndexConstituents: %v", ports.ErrTransientProvider, err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp)
	}

	symbols := make([]string, 0, len(components))
	for _, component := range components {
		if component.Code != "" {
			symbols = append(symbols, component.Code)
		}
	}
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: index %s has no components", ports.ErrInsufficientData, indexCode)
	}
	return symbols, nil
}
