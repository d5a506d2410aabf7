package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rewired-gh/strikewatch/internal/indicators"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrMissingToken is returned when no Upstox access token is configured.
var ErrMissingToken = errors.New("upstox access token is not set")

// UpstoxConfig holds connection settings for the Upstox market-quote API.
type UpstoxConfig struct {
	BaseURL        string
	AccessToken    string
	InstrumentKeys map[string]string // instrument name -> instrument key, e.g. NIFTY -> "NSE_INDEX|Nifty 50"
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	RequestsPerSec float64
	Burst          int
	BreakerName    string
}

// DefaultInstrumentKeys maps the supported indices to Upstox instrument keys.
func DefaultInstrumentKeys() map[string]string {
	return map[string]string{
		"NIFTY":     "NSE_INDEX|Nifty 50",
		"BANKNIFTY": "NSE_INDEX|Nifty Bank",
		"SENSEX":    "BSE_INDEX|SENSEX",
	}
}

// UpstoxSource reads live index quotes. It never places orders.
type UpstoxSource struct {
	cfg        UpstoxConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	history    *History
	params     indicators.Params
	now        func() time.Time
}

type quoteResponse struct {
	Status string                `json:"status"`
	Data   map[string]quoteEntry `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

type quoteEntry struct {
	InstrumentToken string  `json:"instrument_token"`
	Symbol          string  `json:"symbol"`
	LastPrice       float64 `json:"last_price"`
	Volume          float64 `json:"volume"`
}

// statusError carries the HTTP status of a failed request.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstox returned status %d: %s", e.code, e.body)
}

// retryable reports whether a status is worth another attempt.
func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// NewUpstoxSource creates an Upstox quote source writing into history.
func NewUpstoxSource(cfg UpstoxConfig, history *History, params indicators.Params) (*UpstoxSource, error) {
	if cfg.AccessToken == "" {
		return nil, ErrMissingToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.upstox.com"
	}
	if len(cfg.InstrumentKeys) == 0 {
		cfg.InstrumentKeys = DefaultInstrumentKeys()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "upstox"
	}

	st := gobreaker.Settings{
		Name:     cfg.BreakerName,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &UpstoxSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
		history:    history,
		params:     params,
		now:        time.Now,
	}, nil
}

func (u *UpstoxSource) Name() string { return "upstox" }

// Snapshot fetches the latest quote for instrument.
func (u *UpstoxSource) Snapshot(ctx context.Context, instrument string) (models.Snapshot, error) {
	key, ok := u.cfg.InstrumentKeys[instrument]
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}

	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.fetchQuote(ctx, key)
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to fetch quote for %s: %w", instrument, err)
	}
	q := res.(quoteEntry)
	if q.LastPrice <= 0 {
		return models.Snapshot{}, fmt.Errorf("upstox returned non-positive price %.2f for %s", q.LastPrice, instrument)
	}

	return buildSnapshot(u.history, u.params, u.Name(), instrument, q.LastPrice, q.Volume, u.now()), nil
}

func (u *UpstoxSource) fetchQuote(ctx context.Context, key string) (quoteEntry, error) {
	endpoint, err := url.Parse(u.cfg.BaseURL + "/v2/market-quote/quotes")
	if err != nil {
		return quoteEntry{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("instrument_key", key)
	endpoint.RawQuery = q.Encode()

	body, err := u.doRequest(ctx, endpoint.String())
	if err != nil {
		return quoteEntry{}, err
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return quoteEntry{}, fmt.Errorf("failed to decode quote: %w", err)
	}
	if qr.Status != "success" {
		if len(qr.Errors) > 0 {
			return quoteEntry{}, fmt.Errorf("upstox error %s: %s", qr.Errors[0].ErrorCode, qr.Errors[0].Message)
		}
		return quoteEntry{}, fmt.Errorf("upstox status %q", qr.Status)
	}

	// Response keys use "EXCHANGE:symbol" while the request uses "EXCHANGE|symbol",
	// so match on instrument_token and accept a lone entry as a fallback.
	for _, entry := range qr.Data {
		if entry.InstrumentToken == key {
			return entry, nil
		}
	}
	if len(qr.Data) == 1 {
		for _, entry := range qr.Data {
			return entry, nil
		}
	}
	return quoteEntry{}, fmt.Errorf("quote for %s missing from response", key)
}

// doRequest performs a GET with linear-backoff retry on transient failures.
func (u *UpstoxSource) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error

	for i := 0; i < u.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(u.cfg.RetryDelayBase * time.Duration(i)):
			}
		}
		if err := u.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+u.cfg.AccessToken)

		resp, err := u.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			se := &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
			if !se.retryable() {
				return nil, se
			}
			lastErr = se
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
