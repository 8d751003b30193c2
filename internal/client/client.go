// Package client fetches and parses inverter status pages.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/icholy/digest"
	"golang.org/x/time/rate"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/internal/parser"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// maxBodySize bounds the status page read. Logger pages are a few KiB.
const maxBodySize = 1 << 20

// DialContextFunc dials a device connection, e.g. through a tsnet server.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a Client.
type Options struct {
	// UserAgent is sent on every request.
	UserAgent string
	// DialContext replaces the default dialer when set.
	DialContext DialContextFunc
	// Transport replaces the per-device HTTP transport when set. It is used
	// as the base of the digest transport for digest devices.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Fetcher performs one complete poll of a device. The Scheduler depends on
// this interface so tests can inject slow or failing transports.
type Fetcher interface {
	Fetch(ctx context.Context, cfg device.Config) device.PollResult
}

// Client polls inverter status pages over HTTP.
type Client struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	devices map[string]*deviceTransport
}

// deviceTransport is the per-device connection state. Each device gets its
// own transport so closing idle connections after a failure only affects the
// failing logger.
type deviceTransport struct {
	client  *http.Client
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (dt *deviceTransport) closeIdle() {
	if ci, ok := dt.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// NewClient creates a device client.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "solis-exporter"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		devices: make(map[string]*deviceTransport),
	}
}

// Fetch polls one device, retrying up to cfg.Retries attempts in total. The
// first parsed page wins. When every attempt fails the error of the last one
// is reported. Duration spans the whole sequence including backoff waits.
func (c *Client) Fetch(ctx context.Context, cfg device.Config) device.PollResult {
	start := c.now()
	dt := c.transportFor(cfg)
	rc := cfg.RetryConfig()
	attempts := rc.Attempts()

	var lastErr error
	made := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepContext(ctx, rc.CalculateDelay(i-1)); err != nil {
				lastErr = errors.TransportError{Device: cfg.Name.String(), URL: cfg.URL(), Underlying: err, Timestamp: c.now()}
				break
			}
		}

		made++
		reading, err := c.attempt(ctx, cfg, dt)
		if err == nil {
			return device.PollResult{
				Outcome:     device.OutcomeSuccess,
				Reading:     reading,
				AttemptedAt: start,
				Duration:    c.now().Sub(start),
				Attempts:    made,
			}
		}

		lastErr = err
		dt.closeIdle()
		c.logger.Debug("device request failed",
			"inverter", cfg.Name.String(),
			"attempt", made,
			"max_attempts", attempts,
			"error_kind", errors.Classify(err),
			"error", err)
	}

	return device.PollResult{
		Outcome:     device.OutcomeFailure,
		AttemptedAt: start,
		Duration:    c.now().Sub(start),
		Attempts:    made,
		Err:         lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, cfg device.Config, dt *deviceTransport) (device.Reading, error) {
	name := cfg.Name.String()
	target := cfg.URL()

	if dt.limiter != nil {
		if err := dt.limiter.Wait(ctx); err != nil {
			return device.Reading{}, errors.TransportError{Device: name, URL: target, Underlying: err, Timestamp: c.now()}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return device.Reading{}, errors.TransportError{Device: name, URL: target, Underlying: fmt.Errorf("failed to create request: %w", err), Timestamp: c.now()}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if cfg.Auth != device.AuthDigest {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}

	resp, err := dt.client.Do(req)
	if err != nil {
		return device.Reading{}, errors.TransportError{Device: name, URL: target, Underlying: err, Timestamp: c.now()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return device.Reading{}, errors.TransportError{
			Device:     name,
			URL:        target,
			StatusCode: resp.StatusCode,
			Underlying: fmt.Errorf("%s", string(snippet)),
			Timestamp:  c.now(),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return device.Reading{}, errors.TransportError{Device: name, URL: target, Underlying: fmt.Errorf("reading body: %w", err), Timestamp: c.now()}
	}

	reading, err := parser.Parse(body)
	if err != nil {
		return device.Reading{}, errors.ParseError{Device: name, Underlying: err}
	}
	return reading, nil
}

func (c *Client) transportFor(cfg device.Config) *deviceTransport {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := cfg.Name.String()
	if dt, ok := c.devices[name]; ok {
		return dt
	}

	dt := &deviceTransport{base: c.opts.Transport}
	if dt.base == nil {
		dt.base = c.newHTTPTransport(cfg)
	}

	rt := dt.base
	if cfg.Auth == device.AuthDigest {
		rt = &digest.Transport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: dt.base,
		}
	}
	dt.client = &http.Client{Transport: rt}

	if cfg.MinRequestGap > 0 {
		dt.limiter = rate.NewLimiter(rate.Every(cfg.MinRequestGap), 1)
	}

	c.devices[name] = dt
	return dt
}

func (c *Client) newHTTPTransport(cfg device.Config) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	dial := c.opts.DialContext
	if dial == nil {
		dial = dialer.DialContext
	}

	// Proxy is left nil: inverters sit on the local network and must not be
	// routed through an HTTP(S)_PROXY configured for the host.
	return &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          2,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}
}

// Close releases idle connections of every device transport.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dt := range c.devices {
		dt.closeIdle()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
