// Package extract resolves MegaCloud embed URLs into playable streams. It
// scrapes the embed page, runs the provider's wasm module to obtain the
// request token, calls getSources and decrypts the result.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wasmkey/internal/dom"
	"wasmkey/internal/httputil"
	"wasmkey/internal/media"
	"wasmkey/internal/runner"
)

// Options configures an Extractor. Zero values fall back to the provider's
// current endpoints.
type Options struct {
	Client *httputil.Client
	Driver *runner.Driver
	Logger *zap.Logger

	BaseURL        string // getSources and module host, e.g. https://megacloud.tv
	EmbedReferer   string // Referer sent for the embed page
	ModuleURL      string
	ModuleVersion  string
	Module         runner.ModuleSource // overrides ModuleURL, e.g. a local file
	ImageURL       string
	BrowserVersion float64
	Pixels         []byte // raw RGBA; nil means zero-filled
	Quality        string
}

// Extractor runs the whole pipeline. It is safe for concurrent use; every
// call gets its own Driver run.
type Extractor struct {
	opts Options
	log  *zap.Logger
}

// Result is a resolved embed.
type Result struct {
	Embed  Embed         `json:"embed" yaml:"embed"`
	Token  *runner.Token `json:"token" yaml:"token"`
	Stream *media.Stream `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// New returns an Extractor with defaults filled in.
func New(opts Options) *Extractor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Client == nil {
		opts.Client = httputil.NewClient(httputil.Options{Logger: opts.Logger})
	}
	if opts.Driver == nil {
		opts.Driver = runner.New(runner.Options{Logger: opts.Logger, StrictEval: true})
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://megacloud.tv"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.EmbedReferer == "" {
		opts.EmbedReferer = "https://hianime.to/"
	}
	if opts.ModuleURL == "" {
		opts.ModuleURL = opts.BaseURL + "/images/loading.png"
	}
	if opts.ModuleVersion == "" {
		opts.ModuleVersion = "0.0.9"
	}
	if opts.ImageURL == "" {
		opts.ImageURL = opts.BaseURL + "/images/image.png?v=0.1.0"
	}
	if opts.BrowserVersion == 0 {
		opts.BrowserVersion = 1878522368
	}
	return &Extractor{opts: opts, log: opts.Logger}
}

// Token runs the embed page and module but stops before getSources.
func (x *Extractor) Token(ctx context.Context, input string) (*Result, []byte, error) {
	embed, err := Resolve(x.opts.BaseURL, input)
	if err != nil {
		return nil, nil, err
	}

	html, err := x.opts.Client.Fetch(ctx, httputil.Request{
		URL: embed.URL,
		Headers: map[string]string{
			"Referer": x.opts.EmbedReferer,
			"Accept":  "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching embed page: %w", err)
	}

	meta, err := scrapeMeta(string(html))
	if err != nil {
		return nil, nil, err
	}

	page := dom.Page{
		EmbedURL:       embed.URL,
		Origin:         x.opts.BaseURL,
		Referer:        x.opts.EmbedReferer,
		Xrax:           embed.Xrax,
		Meta:           meta,
		ImageSrc:       x.opts.ImageURL,
		Pixels:         x.opts.Pixels,
		BrowserVersion: x.opts.BrowserVersion,
		TimeOrigin:     time.Now(),
	}

	src := x.opts.Module
	if src == nil {
		src = runner.URLSource{
			Client:  x.opts.Client,
			URL:     x.opts.ModuleURL,
			Referer: embed.URL,
			Host:    hostOf(x.opts.ModuleURL),
			Version: x.opts.ModuleVersion,
		}
	}

	tok, err := x.opts.Driver.Run(ctx, src, page)
	if err != nil {
		return nil, nil, err
	}
	payload := tok.Payload

	x.log.Debug("token ready",
		zap.String("xrax", embed.Xrax),
		zap.String("run_id", tok.RunID),
		zap.String("kversion", tok.KVersion),
	)
	return &Result{Embed: embed, Token: tok}, payload, nil
}

// Extract resolves input, a full embed URL or a bare source id, into a
// stream.
func (x *Extractor) Extract(ctx context.Context, input string) (*Result, error) {
	res, payload, err := x.Token(ctx, input)
	if err != nil {
		return nil, err
	}

	var resp sourcesResponse
	err = x.opts.Client.FetchJSON(ctx, httputil.Request{
		URL: x.opts.BaseURL + "/" + res.Embed.Prefix + "/ajax/e-1/getSources",
		Headers: map[string]string{
			"Referer":          res.Embed.URL,
			"X-Requested-With": "XMLHttpRequest",
		},
		Query: map[string]string{
			"id": res.Token.PID,
			"v":  res.Token.KVersion,
			"h":  res.Token.KID,
			"b":  strconv.FormatFloat(x.opts.BrowserVersion, 'f', -1, 64),
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetching sources: %w", err)
	}

	sources, err := resp.decodeSources(payload, res.Token.KVersion)
	if err != nil {
		return nil, err
	}

	res.Stream = resp.stream(sources, x.opts.Quality)
	return res, nil
}

// hostOf returns the host[:port] of rawURL, or "" when it does not parse.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
