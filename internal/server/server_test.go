package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasmkey/internal/errs"
	"wasmkey/internal/extract"
	"wasmkey/internal/history"
	"wasmkey/internal/media"
	"wasmkey/internal/monitoring"
	"wasmkey/internal/runner"
)

const goodURL = "https://megacloud.blog/embed-2/v2/e-1/AbC123?k=1"

type fakeExtractor struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeExtractor) result(input string) (*extract.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	embed, err := extract.ParseEmbed(input)
	if err != nil {
		return nil, err
	}
	return &extract.Result{
		Embed: embed,
		Token: &runner.Token{RunID: "run", PID: "pid", KVersion: "1337", KID: "kid=="},
	}, nil
}

func (f *fakeExtractor) Extract(_ context.Context, input string) (*extract.Result, error) {
	res, err := f.result(input)
	if err != nil {
		return nil, err
	}
	res.Stream = &media.Stream{URL: "https://cdn.example/master.m3u8", Quality: "auto"}
	return res, nil
}

func (f *fakeExtractor) Token(_ context.Context, input string) (*extract.Result, []byte, error) {
	res, err := f.result(input)
	if err != nil {
		return nil, nil, err
	}
	return res, []byte("payload"), nil
}

func newTestServer(t *testing.T, f *fakeExtractor, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Extractor:       f,
		Metrics:         monitoring.NewMetrics(),
		BaseURL:         "https://megacloud.blog",
		AllowedPrefixes: []string{"https://megacloud.blog/embed-2/"},
		CORSOrigins:     []string{"*"},
		Version:         "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func do(s *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, nil)

	w := do(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/extract")

	w = do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "healthy", body["status"])
}

func TestExtractRoutes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wrapped  bool
		wantCode int
	}{
		{"extractor", http.MethodGet, "/extractor?url=" + goodURL, "", false, http.StatusOK},
		{"extract post", http.MethodPost, "/extract", `{"url":"` + goodURL + `"}`, true, http.StatusOK},
		{"api get", http.MethodGet, "/api/extract?url=" + goodURL, "", true, http.StatusOK},
		{"api post", http.MethodPost, "/api/extract", `{"url":"` + goodURL + `"}`, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeExtractor{}
			s := newTestServer(t, f, nil)

			w := do(s, tt.method, tt.target, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			var res extract.Result
			if tt.wrapped {
				var body struct {
					Success bool           `json:"success"`
					Data    extract.Result `json:"data"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.True(t, body.Success)
				res = body.Data
			} else {
				res = decode[extract.Result](t, w)
			}
			assert.Equal(t, "AbC123", res.Embed.Xrax)
			require.NotNil(t, res.Stream)
			assert.Equal(t, "https://cdn.example/master.m3u8", res.Stream.URL)
			assert.Equal(t, []string{goodURL}, f.calls)
		})
	}
}

func TestTokenRoute(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, nil)

	w := do(s, http.MethodGet, "/api/token?url="+goodURL, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Success bool          `json:"success"`
		Data    TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pid", body.Data.Token.PID)
	assert.Equal(t, "1337", body.Data.Token.KVersion)
	assert.Equal(t, "AbC123", body.Data.Embed.Xrax)
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		target    string
		body      string
		extractor error
		wantCode  int
		wantError string
	}{
		{"missing url query", http.MethodGet, "/extractor", "", nil, http.StatusBadRequest, "Missing 'url' parameter"},
		{"missing url body", http.MethodPost, "/extract", `{}`, nil, http.StatusBadRequest, "Missing 'url' parameter"},
		{"malformed body", http.MethodPost, "/api/extract", `{"url":`, nil, http.StatusBadRequest, "Missing 'url' parameter"},
		{"prefix not allowed", http.MethodGet, "/api/extract?url=https://evil.example/embed-2/e-1/x", "", nil, http.StatusBadRequest, "Invalid URL format"},
		{"prefix not allowed post", http.MethodPost, "/extract", `{"url":"http://megacloud.blog/embed-2/e-1/x"}`, nil, http.StatusBadRequest, "Invalid URL format"},
		{"get on extract", http.MethodGet, "/extract", "", nil, http.StatusMethodNotAllowed, "GET method not supported"},
		{"unsupported method", http.MethodDelete, "/health", "", nil, http.StatusMethodNotAllowed, "method not allowed"},
		{"unknown route", http.MethodGet, "/nope", "", nil, http.StatusNotFound, "not found"},
		{"pipeline failure", http.MethodGet, "/extractor?url=" + goodURL, "", errs.At(errs.StepInstantiate, errs.Module(nil, "trap")), http.StatusInternalServerError, "module_error"},
		{"upstream failure", http.MethodGet, "/api/token?url=" + goodURL, "", errs.Fetch(errors.New("refused"), "GET embed"), http.StatusBadGateway, "fetch_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeExtractor{err: tt.extractor}, nil)

			w := do(s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			body := decode[ErrorResponse](t, w)
			assert.Contains(t, body.Error, tt.wantError)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, nil)

	w := do(s, http.MethodGet, "/health", "")
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	w = do(s, http.MethodGet, "/health", "", requestIDHeader, id)
	assert.Equal(t, id, w.Header().Get(requestIDHeader))

	w = do(s, http.MethodGet, "/health", "", requestIDHeader, "not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(requestIDHeader))
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, nil)

	w := do(s, http.MethodOptions, "/api/extract", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	s = newTestServer(t, &fakeExtractor{}, func(o *Options) {
		o.CORSOrigins = []string{"https://app.example"}
	})
	w = do(s, http.MethodGet, "/health", "", "Origin", "https://app.example")
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, func(o *Options) {
		o.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
	})

	target := "/api/token?url=" + goodURL
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, target, "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, target, "").Code)

	w := do(s, http.MethodGet, target, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", decode[ErrorResponse](t, w).Error)

	// health is not limited
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, nil)
	do(s, http.MethodGet, "/extractor?url="+goodURL, "")

	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `wasmkey_extractions_total{operation="extract",status="ok"} 1`)

	s = newTestServer(t, &fakeExtractor{}, func(o *Options) { o.Metrics = nil })
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "").Code)
}

func TestHistoryRecorded(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fakeExtractor{}
	s := newTestServer(t, f, func(o *Options) { o.History = store })
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/extractor?url="+goodURL, "").Code)

	f.err = errs.Fetch(nil, "boom")
	do(s, http.MethodGet, "/extractor?url=https://megacloud.blog/embed-2/e-1/Other9", "")

	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]history.Entry{}
	for _, e := range entries {
		byID[e.Xrax] = e
	}
	assert.Equal(t, "https://cdn.example/master.m3u8", byID["AbC123"].StreamURL)
	assert.True(t, byID["Other9"].Failed())
}
