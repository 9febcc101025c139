package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"levtrader/internal/config"
	"levtrader/internal/logger"
)

const (
	demoBaseURL = "https://demo.trading212.com/api/v0"
	liveBaseURL = "https://live.trading212.com/api/v0"

	clientErrorBodyLimit = 500
	retryBackoffBase     = 1500 * time.Millisecond
)

// Client is the authenticated, rate-limited brokerage REST client. It owns
// retry/backoff and 429 handling; the execution engine is its only caller
// for order placement.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	maxRetries int
	httpClient *http.Client
	limits     *rateState
	sleepFn    func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from configuration; env selects demo vs live.
func NewClient(cfg config.BrokerConfig) (*Client, error) {
	var base string
	switch strings.ToLower(strings.TrimSpace(cfg.Env)) {
	case "live":
		base = liveBaseURL
	case "demo", "":
		base = demoBaseURL
	default:
		return nil, fmt.Errorf("broker env must be demo or live, got %q", cfg.Env)
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		maxRetries: retries,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		limits:     newRateState(),
		sleepFn:    sleepCtx,
	}, nil
}

// SetHTTPClient swaps the HTTP client; used by tests.
func (c *Client) SetHTTPClient(client *http.Client) { c.httpClient = client }

// SetBaseURL overrides the endpoint base; used by tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = strings.TrimRight(base, "/") }

func (c *Client) authHeader() string {
	raw := c.apiKey + ":" + c.apiSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// RateInfo carries the rate-limit headers of the last response.
type RateInfo struct {
	Limit     string
	Remaining string
	Reset     string
}

// Do issues one authenticated request with rate-limit gating and bounded
// retries. Timeouts and 5xx retry with exponential backoff; 429 sleeps until
// the header reset; 401/403 and other 4xx surface immediately.
func (c *Client) Do(ctx context.Context, method, path, group string, params url.Values, body any) ([]byte, RateInfo, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, RateInfo{}, &AuthError{Status: 0, Hint: "API credentials are not configured"}
	}
	if group == "" {
		group = path
	}

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, RateInfo{}, fmt.Errorf("encoding request body: %w", err)
		}
		payload = raw
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limits.wait(ctx, group); err != nil {
			return nil, RateInfo{}, err
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, RateInfo{}, err
		}
		req.Header.Set("Authorization", c.authHeader())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, RateInfo{}, ctx.Err()
			}
			lastErr = err
			if attempt < c.maxRetries {
				if serr := c.sleepFn(ctx, backoffDelay(attempt)); serr != nil {
					return nil, RateInfo{}, serr
				}
				continue
			}
			break
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < c.maxRetries {
				if serr := c.sleepFn(ctx, backoffDelay(attempt)); serr != nil {
					return nil, RateInfo{}, serr
				}
				continue
			}
			break
		}

		info := RateInfo{
			Limit:     resp.Header.Get("x-ratelimit-limit"),
			Remaining: resp.Header.Get("x-ratelimit-remaining"),
			Reset:     resp.Header.Get("x-ratelimit-reset"),
		}
		c.limits.update(group, info.Remaining, info.Reset)

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			return respBody, info, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			hint := fmt.Sprintf("status=%d; check key/secret, env (demo/live), account type, and IP restriction", resp.StatusCode)
			return nil, info, &AuthError{Status: resp.StatusCode, Hint: hint}

		case resp.StatusCode == http.StatusTooManyRequests:
			resetAt := c.limits.noteRejected(group, info.Reset)
			if attempt < c.maxRetries {
				wait := time.Until(resetAt) + 200*time.Millisecond
				if wait < 500*time.Millisecond {
					wait = 500 * time.Millisecond
				}
				logger.Infof("rate-limited on %s, waiting %s", path, wait.Truncate(100*time.Millisecond))
				if serr := c.sleepFn(ctx, wait); serr != nil {
					return nil, info, serr
				}
				continue
			}
			return nil, info, &RateLimitError{ResetAt: resetAt, Detail: truncateBody(respBody)}

		case resp.StatusCode >= 500:
			lastErr = &ServerError{Status: resp.StatusCode}
			if attempt < c.maxRetries {
				if serr := c.sleepFn(ctx, backoffDelay(attempt)); serr != nil {
					return nil, info, serr
				}
				continue
			}
			return nil, info, lastErr

		default:
			return nil, info, &ClientError{Status: resp.StatusCode, Body: truncateBody(respBody)}
		}
	}

	return nil, RateInfo{}, &ServerError{Err: fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)}
}

func backoffDelay(attempt int) time.Duration {
	return retryBackoffBase << attempt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	s := string(body)
	if len(s) > clientErrorBodyLimit {
		return s[:clientErrorBodyLimit]
	}
	return s
}

// IsRetryable reports whether the error class is retried internally.
func IsRetryable(err error) bool {
	var serverErr *ServerError
	var rateErr *RateLimitError
	return errors.As(err, &serverErr) || errors.As(err, &rateErr)
}
