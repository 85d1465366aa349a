// Package httpclient fetches remote captures over HTTP with retries, a
// circuit breaker and transparent decompression.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = time.Second
	DefaultRetryMaxDelay    = 30 * time.Second
	DefaultCircuitThreshold = 5
	DefaultCircuitTimeout   = 30 * time.Second

	acceptEncoding = "gzip, deflate, br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout bounds connection setup and response headers. The body of a
	// capture streams for as long as playback reads it.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first request.
	// The delay doubles after each retry up to RetryMaxDelay.
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// CircuitThreshold is the number of consecutive failed requests that
	// opens the circuit; zero disables it. An open circuit refuses requests
	// until CircuitTimeout has passed since the last failure.
	CircuitThreshold int
	CircuitTimeout   time.Duration

	UserAgent string
	Logger    *slog.Logger

	// MaxResponseSize limits the decompressed body. Zero disables the limit.
	MaxResponseSize int64

	// BaseClient replaces the default transport, mainly for tests.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		RetryAttempts:    DefaultRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
		CircuitThreshold: DefaultCircuitThreshold,
		CircuitTimeout:   DefaultCircuitTimeout,
		Logger:           slog.Default(),
	}
}

// Client opens remote captures. It is safe for concurrent use; the breaker
// is shared by every Open call.
type Client struct {
	config  Config
	client  *http.Client
	breaker *breaker
	logger  *slog.Logger
}

// New creates a new client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base := cfg.BaseClient
	if base == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.Timeout
		// Decompression is handled here so brotli is covered too.
		transport.DisableCompression = true
		base = &http.Client{Transport: transport}
	}

	return &Client{
		config:  cfg,
		client:  base,
		breaker: &breaker{threshold: cfg.CircuitThreshold, timeout: cfg.CircuitTimeout, now: time.Now},
		logger:  cfg.Logger,
	}
}

// Open fetches rawURL and returns its decompressed body. Transport errors,
// 429 and 5xx responses are retried; any other status but 200 fails at once
// with ErrUnexpectedStatus.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)
	logger := c.logger.With(slog.String("url", redactURL(req.URL)))

	var lastErr error
	delay := c.config.RetryDelay
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying capture fetch", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = min(delay*2, max(c.config.RetryMaxDelay, c.config.RetryDelay))
		}

		if !c.breaker.allow() {
			lastErr = ErrCircuitOpen
			logger.Warn("circuit breaker open, skipping capture fetch")
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			c.breaker.record(false)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("capture fetch failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			c.breaker.record(false)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
			logger.Warn("capture fetch failed", slog.Int("attempt", attempt), slog.Int("status", resp.StatusCode))
			continue
		}

		c.breaker.record(true)
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		logger.Debug("capture fetch started",
			slog.Duration("duration", time.Since(start)),
			slog.Int64("content_length", resp.ContentLength),
			slog.String("encoding", resp.Header.Get("Content-Encoding")))

		body := c.decode(resp)
		if c.config.MaxResponseSize > 0 {
			body = &limitedBody{ReadCloser: body, remaining: c.config.MaxResponseSize}
		}
		return body, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// decode unwraps the body's content encoding. Unknown or broken encodings
// pass the raw body through.
func (c *Client) decode(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	var r io.Reader
	switch encoding {
	case "":
		return resp.Body
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("invalid gzip body, reading it raw", slog.String("error", err.Error()))
			return resp.Body
		}
		r = zr
	case "deflate":
		r = flate.NewReader(resp.Body)
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		c.logger.Debug("unknown content encoding, reading body raw", slog.String("encoding", encoding))
		return resp.Body
	}
	return &decodedBody{Reader: r, body: resp.Body}
}

type decodedBody struct {
	io.Reader
	body io.Closer
}

func (d *decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.body.Close()
}

// limitedBody fails with ErrResponseTooLarge once more than its limit has
// been read.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}

// redactURL drops credentials and the query string, which may carry
// tokens, from a URL before it is logged.
func redactURL(u *url.URL) string {
	clean := *u
	clean.User = nil
	if clean.RawQuery != "" {
		clean.RawQuery = "redacted"
	}
	return clean.String()
}

// breaker counts consecutive failed requests. Once threshold is reached it
// refuses requests until timeout has passed since the last failure. A
// failure after that restarts the timeout; a success closes it.
type breaker struct {
	threshold int
	timeout   time.Duration
	now       func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold <= 0 || b.failures < b.threshold || b.now().Sub(b.lastFailure) >= b.timeout
}

func (b *breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailure = b.now()
}
