// Package imaging normalizes photos before they go to object storage: input
// bytes are sniffed, decoded, downscaled to a bounded edge and re-encoded as
// JPEG. Phone cameras hand us multi-megabyte originals; nobody needs those
// for a stash thumbnail.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// MaxEdge bounds the longer side of a stored photo.
	MaxEdge = 1280
	// Quality is the JPEG encoder setting for re-encoded output.
	Quality = 85
)

// ErrUnsupportedFormat reports input that is not JPEG or PNG. Callers decide
// whether to fail the upload or ship the original bytes untouched.
type ErrUnsupportedFormat struct {
	Detected string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported image format %q", e.Detected)
}

// Normalize converts input bytes into upload-ready JPEG, downscaling when the
// image exceeds MaxEdge. The returned content type is always image/jpeg.
func Normalize(data []byte) ([]byte, string, error) {
	detected := http.DetectContentType(data)
	if detected != "image/jpeg" && detected != "image/png" {
		return nil, "", &ErrUnsupportedFormat{Detected: detected}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}

	img = downscale(img, MaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// downscale shrinks img so neither side exceeds maxEdge, preserving aspect
// ratio. Images already within bounds come back unchanged; nothing is ever
// upscaled.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	nw, nh := w, h
	if w > h {
		nw = maxEdge
		nh = h * maxEdge / w
	} else {
		nh = maxEdge
		nw = w * maxEdge / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
