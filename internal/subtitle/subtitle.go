// Package subtitle picks and saves the subtitle tracks returned alongside
// extracted sources.
package subtitle

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"wasmkey/internal/httputil"
	"wasmkey/internal/media"
)

// matches reports whether language occurs in the track's language or label.
func matches(sub media.Subtitle, lang string) bool {
	return strings.Contains(strings.ToLower(sub.Language), lang) ||
		strings.Contains(strings.ToLower(sub.Label), lang)
}

// Filter keeps the tracks matching language, case-insensitively. An empty
// language keeps everything.
func Filter(subtitles []media.Subtitle, language string) []media.Subtitle {
	if language == "" {
		return subtitles
	}
	lang := strings.ToLower(language)
	var out []media.Subtitle
	for _, sub := range subtitles {
		if matches(sub, lang) {
			out = append(out, sub)
		}
	}
	return out
}

// rank orders candidate tracks: the provider's default first, then plain
// tracks over SDH ones.
func rank(sub media.Subtitle) int {
	switch {
	case sub.Default:
		return 0
	case !strings.Contains(strings.ToLower(sub.Label), "sdh"):
		return 1
	}
	return 2
}

// BestMatch returns the highest ranked track for language, or nil.
func BestMatch(subtitles []media.Subtitle, language string) *media.Subtitle {
	var best *media.Subtitle
	for _, sub := range Filter(subtitles, language) {
		if best == nil || rank(sub) < rank(*best) {
			best = &sub
		}
	}
	return best
}

// Filename derives a safe local file name for sub from its URL.
func Filename(sub media.Subtitle) string {
	name := "subtitle.vtt"
	if u, err := url.Parse(sub.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return httputil.SanitizeFilename(name)
}

// Save downloads sub into dir and returns the written path. URL checks are
// the client's.
func Save(ctx context.Context, client *httputil.Client, sub media.Subtitle, dir string) (string, error) {
	localPath, err := httputil.SafeOutputPath(dir, Filename(sub))
	if err != nil {
		return "", err
	}

	body, err := client.Fetch(ctx, httputil.Request{URL: sub.URL})
	if err != nil {
		return "", fmt.Errorf("downloading subtitle: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating subtitle dir: %w", err)
	}
	if err := os.WriteFile(localPath, body, 0o644); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}
	return localPath, nil
}
