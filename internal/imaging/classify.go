package imaging

import "image"

const (
	thumbSize        = 96
	DefaultThreshold = 6.0
	maxThreshold     = 64.0
)

// IsGrayscale reports whether img reads as monochrome (manga) rather than
// color. Pure black and pure white pixels are ignored; each remaining pixel
// contributes the amount by which its channel pair differences exceed
// threshold. An image with no counted pixels is treated as color.
func IsGrayscale(img image.Image, threshold float64) bool {
	t := threshold
	if t < 0 {
		t = 0
	}
	if t > maxThreshold {
		t = maxThreshold
	}
	thumb := Fit(img, thumbSize, thumbSize)
	var sum float64
	var n int
	b := thumb.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := thumb.Pix[(y-b.Min.Y)*thumb.Stride:]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := int(row[4*x]), int(row[4*x+1]), int(row[4*x+2])
			if (r == 0 && g == 0 && bl == 0) || (r == 255 && g == 255 && bl == 255) {
				continue
			}
			sum += excess(r-g, t) + excess(r-bl, t) + excess(g-bl, t)
			n++
		}
	}
	if n == 0 {
		return false
	}
	meanPair := sum / float64(n) / 3
	return meanPair <= t/12
}

func excess(d int, t float64) float64 {
	if d < 0 {
		d = -d
	}
	v := float64(d) - t
	if v < 0 {
		return 0
	}
	return v
}
