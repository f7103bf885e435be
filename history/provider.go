package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

const fetchTimeout = 2 * time.Minute

// Provider fetches raw historical ticks for an instrument over a time
// range. Implementations must fail after a finite number of internal
// retries; an import job has to terminate even when the provider
// misbehaves.
type Provider interface {
	Fetch(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]market.Tick, error)
}

var _ Provider = (*Client)(nil)

type (
	// Client talks to the historical tick provider's REST API.
	Client struct {
		endpoint   string
		apiKey     string
		maxRetries int
		httpClient *http.Client
		logger     zerolog.Logger
	}

	// providerTick is the provider's wire record.
	providerTick struct {
		TimestampMS int64   `json:"timestamp_ms"`
		Bid         float64 `json:"bid"`
		Ask         float64 `json:"ask"`
	}

	// providerError is the provider's structured error body.
	providerError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// NewClient creates a provider client with a finite retry budget. A zero
// or negative budget is coerced to one attempt; unbounded retries once
// hung imports for days and are not allowed.
func NewClient(logger zerolog.Logger, cfg config.History) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: fetchTimeout},
		logger:     logger.With().Str("module", "history").Logger(),
	}
}

// Fetch downloads ticks for [from, to). The provider's buffer failure is
// surfaced as ErrProviderBuffer and is not retried here; the importer's
// descent handles it. Everything else is retried up to the budget.
func (c *Client) Fetch(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]market.Tick, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		ticks, err := c.fetchOnce(ctx, symbol, from, to)
		if err == nil {
			return ticks, nil
		}
		if err == ErrProviderBuffer || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Str("symbol", symbol.String()).
			Int("attempt", attempt).
			Msg("provider fetch failed")
	}
	return nil, fmt.Errorf("provider fetch gave up after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]market.Tick, error) {
	reqURL := fmt.Sprintf(
		"%s/v1/ticks?instrument=%s&from=%d&to=%d",
		c.endpoint, symbol, from.UnixMilli(), to.UnixMilli(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var perr providerError
		if json.Unmarshal(body, &perr) == nil && perr.Code == "BUFFER_EXCEEDED" {
			return nil, ErrProviderBuffer
		}
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []providerTick
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}

	ticks := make([]market.Tick, 0, len(raw))
	for _, pt := range raw {
		ticks = append(ticks, market.Tick{
			Time: float64(pt.TimestampMS) / 1000,
			Bid:  pt.Bid,
			Ask:  pt.Ask,
		})
	}
	return ticks, nil
}
