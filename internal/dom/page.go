package dom

import (
	_ "embed"
	"strings"
	"time"
)

// Decoy image geometry served by the provider.
const (
	ImageWidth  = 65
	ImageHeight = 50
)

//go:embed assets/canvas.txt
var canvasDataURL string

// CanvasDataURL is the fingerprint returned by canvas.toDataURL.
func CanvasDataURL() string {
	return strings.TrimSpace(canvasDataURL)
}

// Page is the per-attempt input scraped from the embed page.
type Page struct {
	EmbedURL       string
	Origin         string
	Referer        string
	Xrax           string
	Meta           string
	ImageSrc       string
	Pixels         []byte // raw RGBA, ImageWidth*ImageHeight*4 bytes
	UserAgent      string
	BrowserVersion float64
	TimeOrigin     time.Time
	CanvasDataURL  string
}

// Env is the full set of emulated objects for one extraction attempt.
type Env struct {
	Window    *Window
	Canvas    *Canvas
	Image     *Image
	ImageData *ImageData
	NodeList  *NodeList
	Meta      *Meta
}

// NewEnv builds a fresh environment from p. Nothing is shared between envs.
func NewEnv(p Page) *Env {
	origin := p.TimeOrigin
	if origin.IsZero() {
		origin = time.Now()
	}
	dataURL := p.CanvasDataURL
	if dataURL == "" {
		dataURL = CanvasDataURL()
	}

	win := &Window{
		Navigator:      &Navigator{UserAgent: p.UserAgent},
		Document:       &Document{},
		Location:       &Location{Href: p.EmbedURL, Origin: p.Origin},
		Performance:    &Performance{TimeOrigin: float64(origin.UnixMilli())},
		LocalStorage:   NewStorage(),
		Crypto:         &Crypto{},
		MSCrypto:       &Crypto{},
		Origin:         p.Origin,
		Xrax:           p.Xrax,
		G:              p.Xrax,
		BrowserVersion: p.BrowserVersion,
	}

	img := &Image{
		Src:      p.ImageSrc,
		Width:    ImageWidth,
		Height:   ImageHeight,
		Complete: true,
	}

	pixels := p.Pixels
	if pixels == nil {
		pixels = make([]byte, ImageWidth*ImageHeight*4)
	}

	return &Env{
		Window: win,
		Canvas: &Canvas{
			BaseURL: p.EmbedURL,
			Style:   &Style{Display: "inline"},
			DataURL: dataURL,
		},
		Image: img,
		ImageData: &ImageData{
			Width:  ImageWidth,
			Height: ImageHeight,
			Data:   append([]byte(nil), pixels...),
		},
		NodeList: &NodeList{Items: []any{img}},
		Meta:     &Meta{Content: p.Meta, HasContent: p.Meta != ""},
	}
}
