package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// DefaultInputSize is the side length, in pixels, of a captured classifier input.
	DefaultInputSize = 32
	// DefaultCropFraction is the share of the shorter frame side kept by a live capture. It matches
	// the on-screen aiming guide.
	DefaultCropFraction = 0.6
)

// CenterSquare returns the centered square covering `fraction` of the shorter side of `bounds`.
// A fraction outside (0, 1] selects the whole shorter side.
func CenterSquare(bounds image.Rectangle, fraction float64) image.Rectangle {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	short := bounds.Dx()
	if bounds.Dy() < short {
		short = bounds.Dy()
	}
	side := int(float64(short) * fraction)
	if side < 1 {
		side = 1
	}
	x0 := bounds.Min.X + (bounds.Dx()-side)/2
	y0 := bounds.Min.Y + (bounds.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// CaptureFrame scales a frame down to a size×size classifier input over a white background.
// When cropFraction is positive the centered square from CenterSquare is kept first; live video
// uses this, while static uploads pass zero and are scaled whole.
func CaptureFrame(img image.Image, size int, cropFraction float64) *image.NRGBA {
	if size <= 0 {
		size = DefaultInputSize
	}
	src := img
	if cropFraction > 0 {
		src = imaging.Crop(img, CenterSquare(img.Bounds(), cropFraction))
	}
	scaled := imaging.Resize(src, size, size, imaging.Linear)
	background := imaging.New(size, size, color.White)
	return imaging.Overlay(background, scaled, image.Pt(0, 0), 1.0)
}

// ImageToFloatBuffer flattens an image into row-major grayscale values in [0, 1]. Each pixel is
// the mean of its red, green and blue channels.
func ImageToFloatBuffer(img image.Image) []float32 {
	bounds := img.Bounds()
	out := make([]float32, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			mean := (float32(c.R) + float32(c.G) + float32(c.B)) / 3
			out = append(out, mean/255)
		}
	}
	return out
}

// ImageToUInt8Buffer flattens an image into row-major grayscale bytes.
func ImageToUInt8Buffer(img image.Image) []byte {
	floats := ImageToFloatBuffer(img)
	out := make([]byte, len(floats))
	for i, f := range floats {
		out[i] = uint8(f*255 + 0.5)
	}
	return out
}
