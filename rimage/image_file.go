package rimage

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"

	"github.com/signscan/signscan/utils"
)

// DecodeImage decodes a byte slice into an image using the given mime type. An empty mime type
// lets the registered decoders sniff the format.
func DecodeImage(ctx context.Context, imgBytes []byte, mimeType string) (image.Image, error) {
	if len(imgBytes) == 0 {
		return nil, errors.New("cannot decode an empty image")
	}
	switch mimeType {
	case utils.MimeTypeJPEG:
		return jpeg.Decode(bytes.NewReader(imgBytes))
	case utils.MimeTypePNG:
		return png.Decode(bytes.NewReader(imgBytes))
	case utils.MimeTypeQOI:
		return qoi.Decode(bytes.NewReader(imgBytes))
	case "":
		img, _, err := image.Decode(bytes.NewReader(imgBytes))
		return img, err
	default:
		return nil, errors.Errorf("do not know how to decode %q", mimeType)
	}
}

// EncodeImage encodes an image into the format given by the mime type.
func EncodeImage(ctx context.Context, img image.Image, mimeType string) ([]byte, error) {
	var buf bytes.Buffer
	switch mimeType {
	case utils.MimeTypeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	case utils.MimeTypePNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypeQOI:
		if err := qoi.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("do not know how to encode %q", mimeType)
	}
	return buf.Bytes(), nil
}

// NewImageFromFile reads and decodes the image at the given path. The format is chosen from the
// file extension and falls back to content sniffing.
func NewImageFromFile(fn string) (image.Image, error) {
	//nolint:gosec
	imgBytes, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(context.Background(), imgBytes, utils.MimeTypeFromPath(fn))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image %s", filepath.Base(fn))
	}
	return img, nil
}

// WriteImageToFile encodes the image using the file extension and writes it out.
func WriteImageToFile(path string, img image.Image) error {
	mimeType := utils.MimeTypeFromPath(path)
	if mimeType == utils.MimeTypeJSON {
		return errors.Errorf("cannot write an image to %s", path)
	}
	imgBytes, err := EncodeImage(context.Background(), img, mimeType)
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, imgBytes, 0o644)
}
