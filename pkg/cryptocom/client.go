// Package cryptocom is a small client for the Crypto.com Exchange REST API.
// It covers the endpoints the trading engine uses: public candlesticks and
// signed private order placement, status and cancellation.
//
// Usage example:
//
//	c := cryptocom.New(cryptocom.Config{APIKey: key, APISecret: secret})
//	candles, err := c.Candlestick(ctx, "DOGE_USDT", "1m", 200)
//	if err != nil { log.Fatal(err) }
//	res, err := c.CreateOrder(ctx, cryptocom.CreateOrderRequest{
//	    Instrument: "DOGE_USDT", Side: "BUY", Type: "LIMIT", Price: "0.0825", Quantity: "100",
//	})
package cryptocom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.crypto.com/v2"
	DefaultWSURL   = "wss://stream.crypto.com/v2/market"

	defaultTimeout = 10 * time.Second
	defaultRPS     = 10
	defaultBurst   = 5
)

// ErrMissingCredentials is returned by private calls on a client built
// without an API key and secret.
var ErrMissingCredentials = errors.New("cryptocom: api key and secret required")

// Config configures the REST client.
type Config struct {
	BaseURL   string // default: https://api.crypto.com/v2
	APIKey    string
	APISecret string
	Timeout   time.Duration // default: 10s

	// Client-side request budget shared by all endpoints.
	RequestsPerSecond float64 // default: 10
	Burst             int     // default: 5

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the exchange REST API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// nonce returns the request id / nonce in epoch milliseconds.
	nonce func() int64
}

// New creates a client. Zero Config fields take defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     lg.With("component", "cryptocom"),
		nonce:      func() int64 { return time.Now().UnixMilli() },
	}
}

// HasCredentials reports whether private endpoints can be called.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// APIError is a response with a non-zero code.
type APIError struct {
	Method  string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cryptocom: %s: code=%d message=%s", e.Method, e.Code, e.Message)
}

// privateRequest is the signed body of a private call.
type privateRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	APIKey string         `json:"api_key"`
	Params map[string]any `json:"params"`
	Nonce  int64          `json:"nonce"`
	Sig    string         `json:"sig"`
}

// public performs a GET on a public endpoint and decodes result into out.
func (c *Client) public(ctx context.Context, method string, query url.Values, out any) error {
	u := c.baseURL + "/" + method
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("cryptocom: build %s: %w", method, err)
	}
	return c.do(req, method, out)
}

// private performs a signed POST on a private endpoint.
func (c *Client) private(ctx context.Context, method string, params map[string]any, out any) error {
	if !c.HasCredentials() {
		return ErrMissingCredentials
	}
	if params == nil {
		params = map[string]any{}
	}
	nonce := c.nonce()
	body := privateRequest{
		ID:     nonce,
		Method: method,
		APIKey: c.apiKey,
		Params: params,
		Nonce:  nonce,
		Sig:    Sign(c.apiSecret, method, params, nonce),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cryptocom: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("cryptocom: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("cryptocom: rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cryptocom: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("cryptocom: read %s: %w", method, err)
	}
	c.logger.Debug("request done",
		"method", method,
		"status", resp.StatusCode,
		"took", time.Since(start),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("cryptocom: %s: http %d", method, resp.StatusCode)
		}
		return fmt.Errorf("cryptocom: decode %s: %w", method, err)
	}
	if env.Code != 0 {
		return &APIError{Method: method, Code: env.Code, Message: env.Message}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("cryptocom: %s: http %d", method, resp.StatusCode)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("cryptocom: decode %s result: %w", method, err)
	}
	return nil
}
