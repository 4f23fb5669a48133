// Package httputil provides a security-hardened HTTP client and input sanitization utilities.
package httputil

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wasmkey/internal/errs"
)

// DefaultUserAgent is the browser the emulated environment claims to be.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const maxBody = 10 * 1024 * 1024 // 10MB

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger

	// AllowPlainHTTP permits http:// URLs. Only local test servers need it.
	AllowPlainHTTP bool
}

// Client performs single-shot requests. There are no retries.
type Client struct {
	r         *resty.Client
	log       *zap.Logger
	allowHTTP bool
}

// Request describes one GET.
type Request struct {
	URL     string
	Headers map[string]string
	Query   map[string]string
}

// NewClient creates a hardened HTTP client with secure defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := resty.New().
		SetTimeout(opts.Timeout).
		SetTransport(&http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			DisableCompression:  false,
			MaxIdleConnsPerHost: 5,
		}).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetDoNotParseResponse(true)

	// net/http ignores a Host header field; it has to go on the request.
	r.SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
		if host := req.Header.Get("Host"); host != "" {
			req.Host = host
			req.Header.Del("Host")
		}
		return nil
	})

	return &Client{r: r, log: log, allowHTTP: opts.AllowPlainHTTP}
}

// Fetch performs the request and returns the body. Transport failures and
// non-2xx statuses are reported as fetch errors.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if err := ValidateURL(req.URL, c.allowHTTP); err != nil {
		return nil, errs.Fetch(err, "invalid URL %q", req.URL)
	}

	start := time.Now()
	resp, err := c.r.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.Query).
		Get(req.URL)
	if err != nil {
		return nil, errs.Fetch(err, "GET %s", req.URL)
	}
	body := resp.RawBody()
	defer body.Close()

	c.log.Debug("fetched",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, errs.Fetch(nil, "unexpected status %d for %s", resp.StatusCode(), req.URL)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return nil, errs.Fetch(err, "reading response from %s", req.URL)
	}
	return data, nil
}

// FetchJSON performs the request and decodes the JSON body into v.
func (c *Client) FetchJSON(ctx context.Context, req Request, v any) error {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if _, ok := req.Headers["Accept"]; !ok {
		req.Headers["Accept"] = "application/json"
	}
	body, err := c.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL, err)
	}
	return nil
}
