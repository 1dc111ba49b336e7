package imaging

import (
	"image"
	"path/filepath"
	"strings"
)

// ResidualApplies reports whether the residual blend runs for a checkpoint:
// the feature is on, strength is positive, and the checkpoint's base name
// contains pattern (case-insensitive).
func ResidualApplies(enabled bool, strength float64, pattern, checkpoint string) bool {
	if !enabled || strength <= 0 || pattern == "" {
		return false
	}
	return strings.Contains(strings.ToLower(filepath.Base(checkpoint)), strings.ToLower(pattern))
}

// BlendResidual treats out as a residual over src: src is resized to out's
// dimensions and each color channel becomes clip(src + out*strength).
// Alpha is taken from the resized source.
func BlendResidual(src, out image.Image, strength float64) *image.RGBA {
	ob := out.Bounds()
	base := Resize(src, ob.Dx(), ob.Dy())
	res := ToRGBA(out)
	dst := image.NewRGBA(image.Rect(0, 0, ob.Dx(), ob.Dy()))
	for i := 0; i < len(dst.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clip8(float64(base.Pix[i+c]) + float64(res.Pix[i+c])*strength)
		}
		dst.Pix[i+3] = base.Pix[i+3]
	}
	return dst
}

func clip8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
