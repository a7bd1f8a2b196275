// Package imaging recompresses base64 images before they enter a session:
// alpha is flattened onto white, wide images are scaled down, and the result
// is re-encoded as JPEG.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegHeader = "data:image/jpeg;base64"

var (
	ErrNotImage = errors.New("imaging: payload is not a decodable image")
	// ErrTooLarge wraps ErrNotImage so callers treating both alike need one check.
	ErrTooLarge = fmt.Errorf("%w: dimensions over budget", ErrNotImage)
)

// Options controls Compress. MaxPixels bounds width*height of the source
// image; larger images are rejected before any pixel data is decoded.
type Options struct {
	MaxWidth  int
	Quality   int
	MaxPixels int
}

// DefaultOptions matches the IMAGE_MAX_WIDTH, IMAGE_QUALITY and
// IMAGE_MAX_PIXELS defaults.
func DefaultOptions() Options {
	return Options{MaxWidth: 1920, Quality: 85, MaxPixels: 40_000_000}
}

// split separates an optional data-URL header from the base64 payload.
func split(s string) (header, payload string) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// IsDataImage reports whether s looks like a base64 data URL of an image.
func IsDataImage(s string) bool {
	header, _ := split(s)
	return strings.HasPrefix(header, "data:image/") && strings.HasSuffix(header, ";base64")
}

// Size is the length of the base64 payload, without any data-URL header.
func Size(s string) int {
	_, payload := split(s)
	return len(payload)
}

// Compress decodes a base64 image (bare or data URL), flattens transparency
// onto white, scales it down to opts.MaxWidth keeping the aspect ratio, and
// returns it as a JPEG data URL.
func Compress(s string, opts Options) (string, error) {
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = def.MaxPixels
	}

	_, payload := split(s)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty image", ErrNotImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(opts.MaxPixels) {
		return "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, opts.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return "", fmt.Errorf("%w: empty image", ErrNotImage)
	}
	if w > opts.MaxWidth {
		h = max(1, h*opts.MaxWidth/w)
		w = opts.MaxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return jpegHeader + "," + base64.StdEncoding.EncodeToString(out.Bytes()), nil
}
