// Package media defines the stream types shared by the extractor, the HTTP
// API and the history store.
package media

// Stream is a fully resolved embed.
type Stream struct {
	URL       string     `json:"url" yaml:"url"` // preferred source
	Quality   string     `json:"quality,omitempty" yaml:"quality,omitempty"`
	Sources   []Source   `json:"sources" yaml:"sources"`
	Subtitles []Subtitle `json:"subtitles,omitempty" yaml:"subtitles,omitempty"`
	Intro     *Segment   `json:"intro,omitempty" yaml:"intro,omitempty"`
	Outro     *Segment   `json:"outro,omitempty" yaml:"outro,omitempty"`
	Server    int        `json:"server,omitempty" yaml:"server,omitempty"`
}

// Source is one playable file, usually an HLS playlist.
type Source struct {
	File string `json:"file" yaml:"file"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Subtitle represents a subtitle track.
type Subtitle struct {
	Language string `json:"language" yaml:"language"` // e.g., "English"
	Label    string `json:"label" yaml:"label"`       // Display label, e.g., "English - SDH"
	URL      string `json:"url" yaml:"url"`           // usually VTT
	Default  bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

// Segment is a skippable range in seconds.
type Segment struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Valid reports whether the segment covers a non-empty range.
func (s *Segment) Valid() bool {
	return s != nil && s.End > s.Start
}
