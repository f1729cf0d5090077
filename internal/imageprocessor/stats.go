package imageprocessor

import (
	"image"
	"math"
)

// MeanChannelStdDev returns the standard deviation of the red, green and blue
// intensities (0-255) averaged over the three channels.
func MeanChannelStdDev(img image.Image) float64 {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = ToRGBA(img)
	}

	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	n := float64(w * h)
	if n == 0 {
		return 0
	}

	var sum, sumSq [3]float64
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			for c := 0; c < 3; c++ {
				v := float64(row[x+c])
				sum[c] += v
				sumSq[c] += v * v
			}
		}
	}

	var total float64
	for c := 0; c < 3; c++ {
		mean := sum[c] / n
		variance := sumSq[c]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		total += math.Sqrt(variance)
	}
	return total / 3
}
