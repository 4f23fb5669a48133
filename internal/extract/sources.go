package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"wasmkey/internal/media"
)

// sourcesResponse represents the JSON from the getSources endpoint.
type sourcesResponse struct {
	Sources json.RawMessage `json:"sources"`
	Tracks  []track         `json:"tracks"`
	T       int             `json:"t"`
	K       json.RawMessage `json:"k"`
	Server  int             `json:"server"`
	Intro   *media.Segment  `json:"intro"`
	Outro   *media.Segment  `json:"outro"`
}

type track struct {
	File    string `json:"file"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Default bool   `json:"default"`
}

// encrypted reports whether sources is a ciphertext string rather than a
// plaintext array.
func (r *sourcesResponse) encrypted() bool {
	return bytes.HasPrefix(bytes.TrimSpace(r.Sources), []byte(`"`))
}

// decodeSources returns the source list, decrypting it with the key
// derived from the navigate payload and kversion when needed.
func (r *sourcesResponse) decodeSources(payload []byte, kversion string) ([]media.Source, error) {
	if len(bytes.TrimSpace(r.Sources)) == 0 || string(bytes.TrimSpace(r.Sources)) == "null" {
		return nil, fmt.Errorf("no sources found")
	}

	plain := []byte(r.Sources)
	if r.encrypted() {
		var ciphertext string
		if err := json.Unmarshal(r.Sources, &ciphertext); err != nil {
			return nil, fmt.Errorf("parsing encrypted sources: %w", err)
		}
		if ciphertext == "" {
			return nil, fmt.Errorf("no sources found")
		}

		material, err := keyMaterial(r.T, r.K, payload)
		if err != nil {
			return nil, err
		}
		pw, err := password(material, kversion)
		if err != nil {
			return nil, err
		}
		if plain, err = decryptSources(pw, ciphertext); err != nil {
			return nil, fmt.Errorf("decrypting sources: %w", err)
		}
	}

	var sources []media.Source
	if err := json.Unmarshal(plain, &sources); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources found")
	}
	return sources, nil
}

// subtitles maps caption tracks; thumbnails and chapters are skipped.
func (r *sourcesResponse) subtitles() []media.Subtitle {
	var subs []media.Subtitle
	for _, t := range r.Tracks {
		if t.File == "" || (t.Kind != "captions" && t.Kind != "subtitles") {
			continue
		}
		subs = append(subs, media.Subtitle{
			Language: language(t.Label),
			Label:    t.Label,
			URL:      t.File,
			Default:  t.Default,
		})
	}
	return subs
}

// language strips variant suffixes: "English - SDH" -> "English".
func language(label string) string {
	if i := strings.Index(label, " - "); i > 0 {
		return label[:i]
	}
	return label
}

// selectQuality picks the source matching the preferred quality, falling
// back to the first one (usually the adaptive master playlist).
func selectQuality(sources []media.Source, preferred string) string {
	if preferred != "" && preferred != "auto" {
		for _, s := range sources {
			if strings.Contains(s.File, preferred) {
				return s.File
			}
		}
	}
	return sources[0].File
}

// stream shapes a decoded response.
func (r *sourcesResponse) stream(sources []media.Source, quality string) *media.Stream {
	s := &media.Stream{
		URL:       selectQuality(sources, quality),
		Quality:   quality,
		Sources:   sources,
		Subtitles: r.subtitles(),
		Server:    r.Server,
	}
	if r.Intro.Valid() {
		s.Intro = r.Intro
	}
	if r.Outro.Valid() {
		s.Outro = r.Outro
	}
	return s
}
