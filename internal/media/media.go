// Package media normalises image uploads before they are forwarded to the API.
package media

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// MaxEdge bounds the longest side of a normalised image.
const MaxEdge = 1600

var (
	ErrNotImage     = errors.New("file is not an image")
	ErrUndecodable  = errors.New("unable to decode image")
	ErrEmptyPicture = errors.New("invalid image dimensions")
)

// IsImage reports whether data sniffs as an image format Normalize understands.
func IsImage(data []byte) bool {
	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

// Normalize decodes an upload, scales it down to fit within maxEdge and re-encodes it as PNG.
// Images already within bounds are only re-encoded.
func Normalize(raw []byte, maxEdge int) ([]byte, string, error) {
	if !IsImage(raw) {
		return nil, "", ErrNotImage
	}
	if maxEdge <= 0 {
		maxEdge = MaxEdge
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		decoded, webpErr := webp.Decode(bytes.NewReader(raw))
		if webpErr != nil {
			return nil, "", ErrUndecodable
		}
		img = decoded
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, "", ErrEmptyPicture
	}

	targetW, targetH := fit(width, height, maxEdge)
	out := image.Image(img)
	if targetW != width || targetH != height {
		resized := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, xdraw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, "", errors.New("unable to encode image")
	}
	return buf.Bytes(), "image/png", nil
}

func fit(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}
