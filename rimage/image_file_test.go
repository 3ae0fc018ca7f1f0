package rimage

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/signscan/signscan/utils"
)

func TestEncodeDecodeRoundTripFormats(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 8))
	img.Set(3, 3, red)

	for _, mimeType := range []string{utils.MimeTypePNG, utils.MimeTypeQOI} {
		t.Run(mimeType, func(t *testing.T) {
			encoded, err := EncodeImage(context.Background(), img, mimeType)
			test.That(t, err, test.ShouldBeNil)
			decoded, err := DecodeImage(context.Background(), encoded, mimeType)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, decoded.Bounds(), test.ShouldResemble, img.Bounds())
			r, _, _, a := decoded.At(3, 3).RGBA()
			test.That(t, r>>8, test.ShouldEqual, 255)
			test.That(t, a>>8, test.ShouldEqual, 255)
		})
	}

	jpegBytes, err := EncodeImage(context.Background(), img, utils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)
	decoded, err := DecodeImage(context.Background(), jpegBytes, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds(), test.ShouldResemble, img.Bounds())
}

func TestDecodeImageErrors(t *testing.T) {
	_, err := DecodeImage(context.Background(), nil, utils.MimeTypePNG)
	test.That(t, err, test.ShouldBeError, "cannot decode an empty image")
	_, err = DecodeImage(context.Background(), []byte{1, 2, 3}, "image/bmp")
	test.That(t, err.Error(), test.ShouldContainSubstring, "image/bmp")
	_, err = EncodeImage(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)), "image/bmp")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	img.Set(1, 1, color.NRGBA{G: 255, A: 255})

	fn := filepath.Join(dir, "frame.png")
	test.That(t, WriteImageToFile(fn, img), test.ShouldBeNil)
	read, err := NewImageFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Bounds(), test.ShouldResemble, img.Bounds())

	_, err = NewImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WriteImageToFile(filepath.Join(dir, "labels.json"), img), test.ShouldNotBeNil)
}
