package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"wasmkey/internal/dom"
)

// PixelsLen is the size of the decoy image as raw RGBA.
const PixelsLen = dom.ImageWidth * dom.ImageHeight * 4

// LoadPixels reads the decoy image pixels from path. The file must hold raw
// RGBA bytes; encoded images are rejected. An empty path yields a
// zero-filled image.
func LoadPixels(path string) ([]byte, error) {
	if path == "" {
		return make([]byte, PixelsLen), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pixels: %w", err)
	}
	return checkPixels(data)
}

func checkPixels(data []byte) ([]byte, error) {
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("pixels must be raw RGBA, got %s (decode it first)", mt.String())
	}
	if len(data) != PixelsLen {
		return nil, fmt.Errorf("pixels must be %dx%d RGBA (%d bytes), got %d bytes",
			dom.ImageWidth, dom.ImageHeight, PixelsLen, len(data))
	}
	return data, nil
}
