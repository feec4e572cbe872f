package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/cboone/termsnap/internal/vt"
)

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := encoder.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// PNG renders s and returns the encoded image.
func (r *Renderer) PNG(s vt.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, r.Render(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
