package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"wasmkey/internal/httputil"
)

// embedPath matches /embed-N/[vN/]e-1/<xrax>.
var embedPath = regexp.MustCompile(`^/(embed-\d+)/(?:v\d+/)?e-1/([\w-]+)/?$`)

// Embed is a parsed embed URL.
type Embed struct {
	URL    string `json:"url" yaml:"url"`       // as given
	Origin string `json:"origin" yaml:"origin"` // scheme://host
	Prefix string `json:"prefix" yaml:"prefix"` // e.g. "embed-2"
	Xrax   string `json:"id" yaml:"id"`         // source id
}

// ParseEmbed extracts origin, embed prefix and source id from an embed URL.
// The scheme is checked by the client that fetches it.
// Example: https://megacloud.tv/embed-2/v2/e-1/AbCdEf?k=1 -> ("https://megacloud.tv", "embed-2", "AbCdEf")
func ParseEmbed(embedURL string) (Embed, error) {
	u, err := url.Parse(embedURL)
	if err != nil {
		return Embed{}, fmt.Errorf("parsing URL: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Embed{}, fmt.Errorf("invalid embed URL %q", embedURL)
	}

	m := embedPath.FindStringSubmatch(u.Path)
	if m == nil {
		return Embed{}, fmt.Errorf("no source id found in %q", embedURL)
	}

	return Embed{
		URL:    embedURL,
		Origin: u.Scheme + "://" + u.Host,
		Prefix: m[1],
		Xrax:   m[2],
	}, nil
}

// EmbedFor builds the embed URL the provider serves for a bare source id.
func EmbedFor(baseURL, xrax string) (Embed, error) {
	if err := httputil.ValidateID(xrax); err != nil {
		return Embed{}, err
	}
	return ParseEmbed(fmt.Sprintf("%s/embed-2/e-1/%s?k=1", strings.TrimRight(baseURL, "/"), xrax))
}

// Resolve accepts either a full embed URL or a bare source id.
func Resolve(baseURL, input string) (Embed, error) {
	if strings.Contains(input, "://") {
		return ParseEmbed(input)
	}
	return EmbedFor(baseURL, input)
}
