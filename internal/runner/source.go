package runner

import (
	"context"
	"fmt"
	"os"

	"wasmkey/internal/errs"
	"wasmkey/internal/httputil"
)

// ModuleSource yields the guest module bytes.
type ModuleSource interface {
	Load(ctx context.Context) ([]byte, error)
	String() string
}

// URLSource downloads the module the way the embed page does.
type URLSource struct {
	Client  *httputil.Client
	URL     string
	Referer string // the embed page URL
	Host    string
	Version string // sent as the v query parameter
}

func (s URLSource) Load(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = httputil.NewClient(httputil.Options{})
	}
	req := httputil.Request{
		URL:     s.URL,
		Headers: map[string]string{},
		Query:   map[string]string{},
	}
	if s.Referer != "" {
		req.Headers["Referer"] = s.Referer
	}
	if s.Host != "" {
		req.Headers["Host"] = s.Host
	}
	if s.Version != "" {
		req.Query["v"] = s.Version
	}
	return client.Fetch(ctx, req)
}

func (s URLSource) String() string { return s.URL }

// BytesSource is a module already in memory.
type BytesSource []byte

func (b BytesSource) Load(context.Context) ([]byte, error) {
	return append([]byte(nil), b...), nil
}

func (b BytesSource) String() string { return fmt.Sprintf("bytes(%d)", len(b)) }

// FileSource reads a module from disk.
type FileSource string

func (f FileSource) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, errs.Fetch(err, "reading module %s", string(f))
	}
	return data, nil
}

func (f FileSource) String() string { return string(f) }
