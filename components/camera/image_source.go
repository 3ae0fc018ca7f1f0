package camera

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/signscan/signscan/rimage"
)

type imageSource struct {
	img image.Image
}

// NewImageSource returns a static source that always hands out the given image.
func NewImageSource(img image.Image) (Source, error) {
	if img == nil {
		return nil, errors.New("must provide an image to create an image source")
	}
	return &imageSource{img: img}, nil
}

// NewImageSourceFromFile decodes the image at path into a static source.
func NewImageSourceFromFile(path string) (Source, error) {
	img, err := rimage.NewImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewImageSource(img)
}

func (s *imageSource) Read(ctx context.Context) (image.Image, error) {
	return s.img, nil
}

func (s *imageSource) Dimensions() image.Point {
	return s.img.Bounds().Size()
}

func (s *imageSource) Streaming() bool {
	return true
}

func (s *imageSource) Kind() SourceKind {
	return StaticImage
}
