package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nickcecere/projectkb/internal/metrics"
)

const (
	defaultRequestDelay = 50 * time.Millisecond
	defaultTimeout      = 60 * time.Second
	defaultMaxRetries   = 2

	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// remoteOptions are shared by the HTTP-backed services.
type remoteOptions struct {
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// RemoteOption configures a remote embedding service.
type RemoteOption func(*remoteOptions)

// WithRequestDelay sets the minimum spacing between requests to the backend.
// The limiter belongs to the service, so concurrent callers share it.
func WithRequestDelay(d time.Duration) RemoteOption {
	return func(o *remoteOptions) {
		o.limiter = NewLimiter(d)
	}
}

// WithLimiter installs an existing limiter, letting several services share one budget.
func WithLimiter(l *rate.Limiter) RemoteOption {
	return func(o *remoteOptions) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithTimeout bounds each individual embedding request.
func WithTimeout(d time.Duration) RemoteOption {
	return func(o *remoteOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) RemoteOption {
	return func(o *remoteOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(o *remoteOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func newRemoteOptions(opts []RemoteOption) remoteOptions {
	o := remoteOptions{
		limiter:    NewLimiter(defaultRequestDelay),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewLimiter returns a limiter admitting one request per delay. A zero delay
// disables throttling.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// statusError reports a non-2xx answer from a backend.
type statusError struct {
	provider Provider
	code     int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.provider, e.code, e.body)
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.code == http.StatusTooManyRequests || status.code >= 500
	}
	return true
}

// do runs one throttled, time-bounded request with retries and records metrics.
func (o *remoteOptions) do(ctx context.Context, provider Provider, fn func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	values, err := retryWithBackoff(ctx, o.maxRetries, func() ([]float32, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		start := time.Now()
		values, err := fn(callCtx)
		metrics.EmbedDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
		return values, err
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EmbedRequests.WithLabelValues(string(provider), result).Inc()

	return values, err
}

// retryWithBackoff runs fn up to maxRetries+1 times with exponential backoff
// between attempts. Permanent errors and cancellation end the loop early.
func retryWithBackoff[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := retryBaseDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) || attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, retryMaxDelay)
		}
	}

	return zero, lastErr
}
