package httputil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// sourceID matches the xrax path segment of an embed URL.
var sourceID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// ValidateURL checks that rawURL is absolute with a host. Only https is
// accepted unless allowHTTP is set.
func ValidateURL(rawURL string, allowHTTP bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && allowHTTP:
	default:
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}
	return nil
}

// ValidatePrefix checks that rawURL is an https URL starting with one of
// allowed. An empty list allows any https URL.
func ValidatePrefix(rawURL string, allowed []string) error {
	if err := ValidateURL(rawURL, false); err != nil {
		return err
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, p := range allowed {
		if strings.HasPrefix(rawURL, p) {
			return nil
		}
	}
	return fmt.Errorf("URL must start with one of %s", strings.Join(allowed, ", "))
}

// ValidateID checks a bare source id before it is spliced into a URL.
func ValidateID(id string) error {
	if !sourceID.MatchString(id) {
		return fmt.Errorf("invalid source id %q", id)
	}
	return nil
}

// SanitizeFilename reduces name to a single safe path element.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "..", "_")

	if name == "" || name == "." {
		return "untitled"
	}
	return name
}

// SafeOutputPath joins dir and the sanitized filename, refusing any result
// outside dir.
func SafeOutputPath(dir, filename string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}
	p := filepath.Join(absDir, SanitizeFilename(filename))
	rel, err := filepath.Rel(absDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%q escapes %q", filename, dir)
	}
	return p, nil
}
