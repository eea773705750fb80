package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// jpegQuality for re-encoded frames sent to the vision API. Analysis does
// not need archival quality, and smaller frames keep the request body down.
const jpegQuality = 85

// BoundImage decodes a still image (JPEG, PNG or WebP) and returns it
// re-encoded as JPEG, scaled down to fit within maxWidth x maxHeight while
// preserving aspect ratio. Images that already fit are only re-encoded.
func BoundImage(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image has empty bounds")
	}

	scale := 1.0
	if float64(maxWidth)/float64(width) < scale {
		scale = float64(maxWidth) / float64(width)
	}
	if float64(maxHeight)/float64(height) < scale {
		scale = float64(maxHeight) / float64(height)
	}

	if scale < 1.0 {
		scaled := image.NewRGBA(image.Rect(0, 0,
			int(float64(width)*scale), int(float64(height)*scale)))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
