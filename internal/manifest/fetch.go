package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vidgrab/vidgrab/internal/types"
)

// DefaultFetchTimeout bounds every manifest, key, and segment request.
const DefaultFetchTimeout = 20 * time.Second

// RetryConfig controls retry/backoff behavior for fetches.
type RetryConfig struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
}

type effectiveRetryConfig struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
}

// HTTPStatusError reports a non-200 response.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch failed: status=%d", e.StatusCode)
}

// Fetcher performs authenticated GETs with the captured browser headers,
// following redirects and enforcing a fixed timeout per request.
type Fetcher struct {
	Client  *http.Client
	Timeout time.Duration
	Retry   RetryConfig
}

// NewFetcher returns a Fetcher over client, or http.DefaultClient when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client, Timeout: DefaultFetchTimeout}
}

// Text fetches rawURL and returns its body as a string.
func (f *Fetcher) Text(ctx context.Context, rawURL string, headers types.RequestHeaders) (string, error) {
	body, err := f.Bytes(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Bytes fetches rawURL with retry/backoff and returns the response body.
// Retryable statuses back off exponentially, honoring Retry-After; context
// cancellation and deadline expiry are never retried.
func (f *Fetcher) Bytes(ctx context.Context, rawURL string, headers types.RequestHeaders) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := normalizeRetryConfig(f.Retry)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		headers.Apply(req)
		resp, err := f.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := func() ([]byte, error) {
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return nil, &HTTPStatusError{
						StatusCode: resp.StatusCode,
						RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
					}
				}
				return io.ReadAll(resp.Body)
			}()
			if readErr == nil {
				return body, nil
			}
			lastErr = readErr
		}
		if !isRetryableError(lastErr, cfg) || attempt == cfg.MaxRetries {
			return nil, lastErr
		}
		backoff := cfg.backoffFor(attempt)
		var statusErr *HTTPStatusError
		if errors.As(lastErr, &statusErr) && statusErr.RetryAfter > backoff {
			backoff = statusErr.RetryAfter
		}
		if err := waitBackoff(ctx, backoff); err != nil {
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("request failed with unknown retry error")
}

// IsTimeout reports whether err is a fetch deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func normalizeRetryConfig(cfg RetryConfig) effectiveRetryConfig {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 3 * time.Second
	}
	statusCodes := cfg.RetryStatusCodes
	if len(statusCodes) == 0 {
		statusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	return effectiveRetryConfig{
		MaxRetries:       maxRetries,
		InitialBackoff:   initialBackoff,
		MaxBackoff:       maxBackoff,
		RetryStatusCodes: statusCodes,
	}
}

func (c effectiveRetryConfig) backoffFor(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

func isRetryableError(err error, cfg effectiveRetryConfig) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		for _, code := range cfg.RetryStatusCodes {
			if statusErr.StatusCode == code {
				return true
			}
		}
		return false
	}
	return true
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}
