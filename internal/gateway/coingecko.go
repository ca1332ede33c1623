package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const simplePricePath = "/simple/price"

// errTerminal wraps provider responses that will not succeed on retry.
var errTerminal = errors.New("terminal provider error")

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	UserAgent      string
	CallsPerMinute int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// CoinGecko fetches batched spot prices from the CoinGecko simple/price API.
// The whole asset set goes out as a single provider call per Fetch; the
// limiter ledger is the only state carried between ticks.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewCoinGecko constructs a market data gateway backed by CoinGecko.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	callsPerMinute := opts.CallsPerMinute
	if callsPerMinute <= 0 {
		callsPerMinute = 50
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 30 * time.Second
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "market_gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1),
	}
}

// Fetch retrieves current prices for the requested identifiers in one batched
// call, retrying transient failures with exponential backoff. Identifiers the
// provider does not return are reported as terminal failures; a batch-level
// transient failure after all attempts marks every identifier failed for this
// tick without raising an error.
func (g *CoinGecko) Fetch(ctx context.Context, assetIDs []string) (map[string]PriceSample, []FetchFailure) {
	if len(assetIDs) == 0 {
		return map[string]PriceSample{}, nil
	}

	payload, err := g.fetchWithRetry(ctx, assetIDs)
	if err != nil {
		reason := err.Error()
		terminal := errors.Is(err, errTerminal)
		failures := make([]FetchFailure, 0, len(assetIDs))
		for _, id := range assetIDs {
			failures = append(failures, FetchFailure{AssetID: id, Reason: reason, Terminal: terminal})
		}
		g.logger.Error().Err(err).Int("assets", len(assetIDs)).Bool("terminal", terminal).
			Msg("batch fetch failed")
		return map[string]PriceSample{}, failures
	}

	now := time.Now().UTC()
	samples := make(map[string]PriceSample, len(assetIDs))
	var failures []FetchFailure
	for _, id := range assetIDs {
		entry, ok := payload[id]
		if !ok || entry.USD == nil {
			// The provider silently drops identifiers it does not know.
			failures = append(failures, FetchFailure{
				AssetID:  id,
				Reason:   "price not returned by provider",
				Terminal: true,
			})
			continue
		}

		sample := PriceSample{
			AssetID:    id,
			Price:      decimal.NewFromFloat(*entry.USD),
			Timestamp:  now,
			Provenance: "coingecko:simple/price",
		}
		if entry.USD24hVol != nil {
			sample.Volume24h = decimal.NewFromFloat(*entry.USD24hVol)
		}
		if entry.USDMarketCap != nil {
			sample.MarketCap = decimal.NewFromFloat(*entry.USDMarketCap)
		}
		if entry.LastUpdatedAt != nil {
			sample.Timestamp = time.Unix(*entry.LastUpdatedAt, 0).UTC()
		}
		samples[id] = sample
	}

	g.logger.Debug().Int("requested", len(assetIDs)).Int("fetched", len(samples)).
		Int("failed", len(failures)).Msg("batch fetch complete")
	return samples, failures
}

type priceEntry struct {
	USD           *float64 `json:"usd"`
	USD24hVol     *float64 `json:"usd_24h_vol"`
	USDMarketCap  *float64 `json:"usd_market_cap"`
	LastUpdatedAt *int64   `json:"last_updated_at"`
}

func (g *CoinGecko) fetchWithRetry(ctx context.Context, assetIDs []string) (map[string]priceEntry, error) {
	var lastErr error
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.backoffDelay(attempt)
			g.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).
				Msg("retrying provider call")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		payload, err := g.doRequest(ctx, assetIDs)
		if err == nil {
			return payload, nil
		}
		if errors.Is(err, errTerminal) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("provider unavailable after %d attempts: %w", g.opts.MaxAttempts, lastErr)
}

func (g *CoinGecko) backoffDelay(attempt int) time.Duration {
	delay := g.opts.RetryBaseDelay << uint(attempt-1)
	if delay > g.opts.RetryMaxDelay {
		return g.opts.RetryMaxDelay
	}
	return delay
}

func (g *CoinGecko) doRequest(ctx context.Context, assetIDs []string) (map[string]priceEntry, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(assetIDs, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_vol", "true")
	params.Set("include_market_cap", "true")
	params.Set("include_last_updated_at", "true")
	params.Set("precision", "6")

	endpoint := g.baseURL + simplePricePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pegwatch/1.0")
	}
	if g.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", g.opts.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}

	var payload map[string]priceEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return payload, nil
}

// classifyHTTPError separates retryable statuses (429, 5xx) from terminal
// ones (auth failure, malformed request) so callers do not build retry
// storms against errors that cannot clear on their own.
func classifyHTTPError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("provider error (%d): %s", status, msg)
	default:
		return fmt.Errorf("%w: provider rejected request (%d): %s", errTerminal, status, msg)
	}
}

var _ MarketDataGateway = (*CoinGecko)(nil)
