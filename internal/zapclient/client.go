// Package zapclient is the HTTP client for the scanner's control API. Every
// operation the control plane performs against the scanner goes through
// Client.Invoke: a GET-style action/view call returning decoded JSON, with
// bounded internal retries on transport failures and a process-wide request
// throttle so concurrent poll loops cannot hammer the scanner.
package zapclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/zapgate/zapgate/internal/config"
	"github.com/zapgate/zapgate/internal/logging"
)

const (
	userAgent = "zapgate/1.1"

	// maxRetrySleep caps the client-internal backoff between attempts.
	maxRetrySleep = 6 * time.Second

	// respPreview bounds how much of a response body is logged.
	respPreview = 200
)

// Client talks to a single scanner instance.
type Client struct {
	base       string
	apiKey     string
	retryTotal int
	backoff    time.Duration
	http       *http.Client
	limiter    *rate.Limiter
	logger     logging.Logger
}

// New builds a Client from cfg. httpClient may be nil, in which case a pooled
// client with the configured timeouts is constructed.
func New(cfg *config.Config, logger logging.Logger, httpClient *http.Client) *Client {
	componentLogger := logger.With(logging.Field{Key: "component", Value: "zapclient"})

	if httpClient == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
		httpClient = &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConns:        cfg.PoolSize,
				MaxIdleConnsPerHost: cfg.PoolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	// A fractional rps below 1 would truncate to a zero burst, which lets no
	// request through at all.
	burst := int(rps) * 2
	if burst < 1 {
		burst = 1
	}

	retryTotal := cfg.RetryTotal
	if retryTotal < 0 {
		retryTotal = 0
	}

	return &Client{
		base:       cfg.ZapBase,
		apiKey:     cfg.APIKey,
		retryTotal: retryTotal,
		backoff:    cfg.Backoff,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     componentLogger,
	}
}

// Invoke performs a named action/view call and decodes the JSON response.
// Connection failures and retryable statuses (429, 5xx) are retried with
// exponential backoff; exhaustion yields a *TransportError. Any other non-2xx
// status yields a *StatusError immediately.
func (c *Client) Invoke(ctx context.Context, path string, params map[string]string, sessionID string) (Result, error) {
	target := c.buildURL(path, params, sessionID)

	var lastErr error
	attempts := c.retryTotal + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		t0 := time.Now()
		body, status, err := c.get(ctx, target)
		elapsed := time.Since(t0)

		switch {
		case err == nil && status >= 200 && status < 300:
			var res Result
			if jsonErr := json.Unmarshal(body, &res); jsonErr != nil {
				return nil, fmt.Errorf("decoding response from %s: %w", path, jsonErr)
			}
			c.logger.Debug("api call ok",
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "status", Value: status},
				logging.Field{Key: "elapsed_ms", Value: elapsed.Milliseconds()})
			return res, nil

		case err == nil && !retryableStatus(status):
			c.logger.Error("api call rejected",
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "status", Value: status},
				logging.Field{Key: "resp_preview", Value: preview(body)})
			return nil, &StatusError{Path: path, Code: status, Body: preview(body)}

		case err == nil:
			lastErr = &StatusError{Path: path, Code: status, Body: preview(body)}

		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		}

		c.logger.Warn("api call retry",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "error", Value: lastErr.Error()})

		if attempt == attempts {
			break
		}
		sleep := c.backoff << (attempt - 1)
		if sleep > maxRetrySleep {
			sleep = maxRetrySleep
		}
		sleep += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Error("api call failed",
		logging.Field{Key: "path", Value: path},
		logging.Field{Key: "attempts", Value: attempts},
		logging.Field{Key: "error", Value: lastErr.Error()})
	if se, ok := lastErr.(*StatusError); ok {
		return nil, se
	}
	return nil, &TransportError{Path: path, Attempts: attempts, Err: lastErr}
}

// Version queries the scanner's version view. It doubles as a reachability
// probe at startup and for the health endpoint.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.Invoke(ctx, "/JSON/core/view/version/", nil, "")
	if err != nil {
		return "", err
	}
	return res.Str("version"), nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) buildURL(path string, params map[string]string, sessionID string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	if len(q) == 0 {
		return c.base + path
	}
	return c.base + path + "?" + q.Encode()
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func preview(body []byte) string {
	if len(body) > respPreview {
		body = body[:respPreview]
	}
	return string(body)
}
