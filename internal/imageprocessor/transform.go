package imageprocessor

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// ToRGBA copies img into an origin-anchored RGBA buffer.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize resamples img to exactly width×height with bilinear interpolation.
// Alpha is discarded: the result is img composited over opaque black.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Grayscale converts img to 8-bit luma.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// FitWithin scales img so its longest side is at most maxDimension. Smaller
// images are enlarged towards the bound but never by more than maxUpscale.
// img is returned untouched when no scaling applies.
func FitWithin(img image.Image, maxDimension int, maxUpscale float64) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if maxDimension <= 0 || longest == 0 {
		return img
	}

	scale := float64(maxDimension) / float64(longest)
	if maxUpscale < 1 {
		maxUpscale = 1
	}
	if scale > maxUpscale {
		scale = maxUpscale
	}
	width := int(math.Round(float64(b.Dx()) * scale))
	height := int(math.Round(float64(b.Dy()) * scale))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width == b.Dx() && height == b.Dy() {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// StretchContrast linearly maps the darkest pixel to 0 and the brightest to
// 255. Flat images are copied unchanged.
func StretchContrast(gray *image.Gray) *image.Gray {
	out := image.NewGray(gray.Rect)
	copy(out.Pix, gray.Pix)

	lo, hi := uint8(255), uint8(0)
	for _, p := range gray.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi <= lo {
		return out
	}

	span := float64(hi - lo)
	for i, p := range gray.Pix {
		out.Pix[i] = uint8(math.Round(float64(p-lo) * 255 / span))
	}
	return out
}

// EncodePNG losslessly re-encodes img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
