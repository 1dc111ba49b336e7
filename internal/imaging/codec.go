// Package imaging holds the pixel-level pieces of the enhance pipeline:
// decoding and encoding, resampling, grayscale classification and the
// residual blend.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	_ "golang.org/x/image/webp"
)

// Output formats accepted by Encode.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

const jpegQuality = 92

// NormalizeFormat maps a requested format onto a known one. Unknown or empty
// values resolve to def (or png when def is empty too).
func NormalizeFormat(s, def string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG
	case "jpg", "jpeg":
		return FormatJPEG
	case "webp":
		return FormatWebP
	}
	if def != "" && def != s {
		return NormalizeFormat(def, "")
	}
	return FormatPNG
}

// Decode sniffs and decodes png, jpeg, gif and webp input.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("decode image: empty input")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Encode writes img in the requested format and reports the format actually
// produced with its content type. WebP output is lossless.
func Encode(img image.Image, format string) (data []byte, actual, contentType string, err error) {
	var buf bytes.Buffer
	switch Encoded(format) {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
		actual, contentType = FormatJPEG, "image/jpeg"
	case FormatWebP:
		err = nativewebp.Encode(&buf, img, nil)
		actual, contentType = FormatWebP, "image/webp"
	default:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(&buf, img)
		actual, contentType = FormatPNG, "image/png"
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("encode %s: %w", actual, err)
	}
	return buf.Bytes(), actual, contentType, nil
}

// ContentType returns the MIME type for an encoded format name.
func ContentType(format string) string {
	switch NormalizeFormat(format, FormatPNG) {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Encoded returns the format Encode produces for a requested one.
func Encoded(format string) string {
	return NormalizeFormat(format, FormatPNG)
}

// Extension returns the file extension of what Encode writes for format.
func Extension(format string) string {
	switch Encoded(format) {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}
