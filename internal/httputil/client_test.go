package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wasmkey/internal/errs"
)

func TestFetchSendsHeadersAndQuery(t *testing.T) {
	var gotHost, gotReferer, gotUA, gotV string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		gotV = r.URL.Query().Get("v")
		w.Write([]byte("\x00asm"))
	}))
	defer srv.Close()

	c := NewClient(Options{AllowPlainHTTP: true})
	body, err := c.Fetch(context.Background(), Request{
		URL: srv.URL + "/images/loading.png",
		Headers: map[string]string{
			"Referer": "https://megacloud.blog/embed-2/e-1/abc?k=1",
			"Host":    "megacloud.tv",
		},
		Query: map[string]string{"v": "0.0.9"},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "\x00asm" {
		t.Errorf("body = %q", body)
	}
	if gotHost != "megacloud.tv" {
		t.Errorf("Host = %q, want megacloud.tv", gotHost)
	}
	if gotReferer != "https://megacloud.blog/embed-2/e-1/abc?k=1" {
		t.Errorf("Referer = %q", gotReferer)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotV != "0.0.9" {
		t.Errorf("v = %q", gotV)
	}
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		client *Client
		url    string
	}{
		{"non-2xx status", NewClient(Options{AllowPlainHTTP: true}), srv.URL},
		{"plain http refused", NewClient(Options{}), srv.URL},
		{"unreachable", NewClient(Options{AllowPlainHTTP: true}), "http://127.0.0.1:1/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Fetch(context.Background(), Request{URL: tt.url})
			if !errors.Is(err, errs.ErrFetch) {
				t.Errorf("Fetch() error = %v, want fetch error", err)
			}
		})
	}
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"t":1,"server":4}`))
	}))
	defer srv.Close()

	var out struct {
		T      int `json:"t"`
		Server int `json:"server"`
	}
	c := NewClient(Options{AllowPlainHTTP: true})
	if err := c.FetchJSON(context.Background(), Request{URL: srv.URL}, &out); err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if out.T != 1 || out.Server != 4 {
		t.Errorf("decoded %+v", out)
	}
}
