package fsvault

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Transformer rewrites decrypted item content. Rotate applies it between
// decryption and re-encryption.
type Transformer interface {
	Transform(src []byte) ([]byte, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(src []byte) ([]byte, error)

// Transform calls f(src).
func (f TransformerFunc) Transform(src []byte) ([]byte, error) { return f(src) }

// DefaultJPEGQuality is used when re-encoding rotated JPEG images.
const DefaultJPEGQuality = 95

// ClockwiseRotator turns an image 90 degrees clockwise and re-encodes it in
// its source format. EXIF orientation is applied before rotating, so the
// result is upright as displayed; the metadata itself is not carried over.
type ClockwiseRotator struct {
	JPEGQuality int
}

// Transform implements Transformer.
func (r ClockwiseRotator) Transform(src []byte) ([]byte, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("detect image format: %w", err)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return nil, fmt.Errorf("image format %q: %w", name, err)
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	rotated := imaging.Rotate270(img)

	q := r.JPEGQuality
	if q <= 0 {
		q = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, rotated, format, imaging.JPEGQuality(q)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
