package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// EncodeSnapshot scales img to width x height and encodes it as JPEG at
// quality (1-100). A zero width or height keeps the source bounds.
func EncodeSnapshot(img image.Image, width, height, quality int) ([]byte, int, int, error) {
	if img == nil {
		return nil, 0, 0, errors.New("nil snapshot image")
	}

	src := img.Bounds()
	if src.Empty() {
		return nil, 0, 0, errors.New("empty snapshot image")
	}
	if width <= 0 || height <= 0 {
		width, height = src.Dx(), src.Dy()
	}

	var frame image.Image = img
	if width != src.Dx() || height != src.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		frame = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode snapshot jpeg: %w", err)
	}
	return buf.Bytes(), width, height, nil
}
