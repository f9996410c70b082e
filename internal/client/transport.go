package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotResponding = errors.New("endpoint not responding")
)

// Transport fetches raw documents relative to a drand endpoint.
type Transport interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

const maxBody = 1 << 20

// HTTPTransport speaks the drand HTTP API.
type HTTPTransport struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	retries uint64
	backoff time.Duration
}

type HTTPOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithRateLimit caps outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(t *HTTPTransport) { t.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithRetries sets how many times a transient failure is retried and the
// initial backoff between attempts.
func WithRetries(n uint64, base time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.retries = n
		if base > 0 {
			t.backoff = base
		}
	}
}

func NewHTTPTransport(base string, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("endpoint url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint url %q: want http(s)://host", base)
	}
	t := &HTTPTransport{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 20),
		retries: 3,
		backoff: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Fetch GETs base/path. 404 maps to ErrNotFound; everything else that is not
// a 200 maps to ErrNotResponding after retries are spent.
func (t *HTTPTransport) Fetch(ctx context.Context, path string) ([]byte, error) {
	op := opName(path)
	start := time.Now()
	b, err := t.fetchRetry(ctx, path)
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
		logger.WarnJ("client_fetch", map[string]any{"op": op, "path": path, "err": err.Error()})
	}
	metrics.Inc("client_fetch_total", map[string]string{"op": op, "result": result})
	metrics.ObserveSummary("client_fetch_ms", map[string]string{"op": op}, float64(time.Since(start).Milliseconds()))
	return b, err
}

func (t *HTTPTransport) fetchRetry(ctx context.Context, path string) ([]byte, error) {
	backoff, err := retry.NewExponential(t.backoff)
	if err != nil {
		return nil, err
	}
	backoff = retry.WithMaxRetries(t.retries, backoff)
	var body []byte
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := t.once(ctx, path)
		if err != nil {
			if errors.Is(err, ErrNotResponding) {
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (t *HTTPTransport) once(ctx context.Context, path string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNotResponding, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: status %d", ErrNotResponding, path, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNotResponding, err)
	}
	return b, nil
}

func opName(path string) string {
	p := strings.TrimLeft(path, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "root"
	}
	return p
}
