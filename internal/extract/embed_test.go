package extract

import "testing"

func TestParseEmbed(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantOrigin string
		wantPrefix string
		wantID     string
		wantErr    bool
	}{
		{
			name:       "embed-2 e-1 URL",
			url:        "https://megacloud.tv/embed-2/e-1/AbCdEf123?k=1",
			wantOrigin: "https://megacloud.tv",
			wantPrefix: "embed-2",
			wantID:     "AbCdEf123",
		},
		{
			name:       "versioned path",
			url:        "https://megacloud.blog/embed-2/v2/e-1/XyZ789?k=1",
			wantOrigin: "https://megacloud.blog",
			wantPrefix: "embed-2",
			wantID:     "XyZ789",
		},
		{
			name:       "trailing slash no query",
			url:        "https://example.com/embed-4/v3/e-1/test_Id-2/",
			wantOrigin: "https://example.com",
			wantPrefix: "embed-4",
			wantID:     "test_Id-2",
		},
		{
			name:    "empty URL",
			url:     "",
			wantErr: true,
		},
		{
			name:    "not an embed path",
			url:     "https://megacloud.tv/watch/AbCdEf",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			url:     "ftp://megacloud.tv/embed-2/e-1/AbCdEf",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEmbed(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEmbed() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if got.Origin != tt.wantOrigin {
				t.Errorf("origin = %q, want %q", got.Origin, tt.wantOrigin)
			}
			if got.Prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", got.Prefix, tt.wantPrefix)
			}
			if got.Xrax != tt.wantID {
				t.Errorf("xrax = %q, want %q", got.Xrax, tt.wantID)
			}
			if got.URL != tt.url {
				t.Errorf("URL = %q, want input", got.URL)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("https://megacloud.tv/", "AbC123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.URL != "https://megacloud.tv/embed-2/e-1/AbC123?k=1" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.Xrax != "AbC123" {
		t.Errorf("xrax = %q", got.Xrax)
	}

	if _, err := Resolve("https://megacloud.tv", "../etc/passwd"); err == nil {
		t.Error("Resolve() should reject unsafe ids")
	}
}
