package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// metaFallback is tried when the page does not parse as a document
	// with the meta tag, e.g. when it sits inside a script string.
	metaFallback = regexp.MustCompile(`name=["']j_crt["']\s+content=["']([A-Za-z0-9+/=]+)`)

	// bareKey is a key the page served without its base64 padding.
	bareKey = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// scrapeMeta returns the j_crt meta content from the embed page HTML.
func scrapeMeta(html string) (string, error) {
	var content string

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		content, _ = doc.Find(`meta[name="j_crt"]`).First().Attr("content")
	}
	if content == "" {
		if m := metaFallback.FindStringSubmatch(html); m != nil {
			content = m[1]
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("no j_crt meta in embed page")
	}
	if bareKey.MatchString(content) {
		content += "=="
	}
	return content, nil
}
