package player

import (
	"context"
	"slices"
	"strings"
	"testing"

	"wasmkey/internal/extract"
	"wasmkey/internal/media"
)

func testResult() *extract.Result {
	return &extract.Result{
		Embed: extract.Embed{URL: "https://megacloud.tv/embed-2/e-1/AbC?k=1", Origin: "https://megacloud.tv", Xrax: "AbC"},
		Stream: &media.Stream{
			URL: "https://cdn.example/master.m3u8",
			Subtitles: []media.Subtitle{
				{Language: "Spanish", URL: "https://cc.example/es.vtt"},
				{Language: "English", URL: "https://cc.example/en.vtt", Default: true},
			},
			Intro: &media.Segment{Start: 10, End: 95},
		},
	}
}

func TestFromResult(t *testing.T) {
	tgt, err := FromResult(testResult(), "UA/1.0", true)
	if err != nil {
		t.Fatalf("FromResult() error: %v", err)
	}
	if tgt.Referer != "https://megacloud.tv/" {
		t.Errorf("Referer = %q", tgt.Referer)
	}
	if tgt.Start != 95 {
		t.Errorf("Start = %d, want 95", tgt.Start)
	}
	if len(tgt.Subtitles) != 2 || tgt.Subtitles[0] != "https://cc.example/en.vtt" {
		t.Errorf("Subtitles = %v, want the default track first", tgt.Subtitles)
	}

	tgt, _ = FromResult(testResult(), "", false)
	if tgt.Start != 0 {
		t.Errorf("Start without skipIntro = %d", tgt.Start)
	}

	if _, err := FromResult(&extract.Result{}, "", false); err == nil {
		t.Error("FromResult() without a stream should fail")
	}
}

func TestArgs(t *testing.T) {
	tgt, _ := FromResult(testResult(), "UA/1.0", true)

	tests := []struct {
		player string
		name   string
		want   []string
	}{
		{"mpv", "mpv", []string{"--referrer=https://megacloud.tv/", "--start=+95", "--user-agent=UA/1.0", "--sub-file=https://cc.example/es.vtt"}},
		{"", "mpv", []string{"--force-media-title=AbC"}},
		{"iina", "iina", []string{"--referrer=https://megacloud.tv/"}},
		{"vlc", "vlc", []string{"--http-referrer", "--start-time=95", "--play-and-exit", "https://cc.example/en.vtt"}},
	}
	for _, tt := range tests {
		p := New(tt.player)
		if p.Name() != tt.name {
			t.Errorf("New(%q).Name() = %q, want %q", tt.player, p.Name(), tt.name)
		}
		args := p.Args(tgt)
		if args[0] != tgt.URL {
			t.Errorf("%s: first arg = %q, want the stream URL", tt.name, args[0])
		}
		for _, w := range tt.want {
			if !slices.Contains(args, w) {
				t.Errorf("%s args missing %q: %s", tt.name, w, strings.Join(args, " "))
			}
		}
	}
}

func TestPlayMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	err := Play(context.Background(), New("mpv"), Target{URL: "https://cdn.example/x.m3u8"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Play() error = %v, want not found", err)
	}
}
