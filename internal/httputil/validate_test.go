package httputil

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url       string
		allowHTTP bool
		wantErr   bool
	}{
		{"https://megacloud.blog/embed-2/v2/e-1/abc?k=1", false, false},
		{"https://megacloud.tv:8443/images/loading.png?v=0.0.9", false, false},
		{"http://127.0.0.1:8080/embed-2/e-1/abc", false, true},
		{"http://127.0.0.1:8080/embed-2/e-1/abc", true, false},
		{"javascript:alert(1)", true, true},
		{"data:text/html,<h1>x</h1>", false, true},
		{"ftp://example.com/file", false, true},
		{"https://", false, true},
		{"", false, true},
		{"https://user:pw@megacloud.tv/embed-2/e-1/abc", false, true},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.url, tt.allowHTTP)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q, %v) error = %v, wantErr %v", tt.url, tt.allowHTTP, err, tt.wantErr)
		}
	}
}

func TestValidatePrefix(t *testing.T) {
	allowed := []string{"https://megacloud.blog/embed-2/", "https://megacloud.tv/embed-2/"}

	tests := []struct {
		name    string
		url     string
		allowed []string
		wantErr bool
	}{
		{"embed", "https://megacloud.blog/embed-2/e-1/abc?k=1", allowed, false},
		{"second prefix", "https://megacloud.tv/embed-2/v2/e-1/abc?k=1", allowed, false},
		{"other host", "https://evil.example/embed-2/e-1/abc", allowed, true},
		{"prefix inside query", "https://evil.example/?u=https://megacloud.blog/embed-2/", allowed, true},
		{"plain http", "http://megacloud.blog/embed-2/e-1/abc", allowed, true},
		{"no list", "https://anything.example/x", nil, false},
		{"no list still needs https", "http://anything.example/x", nil, true},
		{"empty", "", allowed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrefix(tt.url, tt.allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrefix(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	good := []string{"Ab3dEf9hIj", "abc-123", "a_b"}
	bad := []string{"", "../../etc/passwd", "abc/def", "123; rm -rf /", "abc?k=1", "abc\n", strings.Repeat("a", 257)}

	for _, id := range good {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	for _, id := range bad {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) should fail", id)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"AbC123.json", "AbC123.json"},
		{"../../etc/passwd", "passwd"},
		{"/home/user/eng.vtt", "eng.vtt"},
		{"abc\x00\x1b.json", "abc.json"},
		{`abc<>:"|?*.json`, "abc_______.json"},
		{"abc..json", "abc_json"},
		{"", "untitled"},
		{".", "untitled"},
		{"..", "_"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSafeOutputPath(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"AbC.json", "../../etc/passwd", "$(whoami).yaml"} {
		p, err := SafeOutputPath(dir, name)
		if err != nil {
			t.Errorf("SafeOutputPath(%q) error: %v", name, err)
			continue
		}
		if filepath.Dir(p) != dir {
			t.Errorf("SafeOutputPath(%q) = %q, want a file directly in %q", name, p, dir)
		}
	}
}
