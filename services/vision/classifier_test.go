package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/ml"
	"github.com/signscan/signscan/services/mlmodel"
	"github.com/signscan/signscan/services/mlmodel/reference"
)

type fakeModel struct {
	md      mlmodel.MLMetadata
	lastIn  ml.Tensors
	infer   func(ml.Tensors) (ml.Tensors, error)
	mdError error
}

func (f *fakeModel) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	f.lastIn = tensors
	return f.infer(tensors)
}

func (f *fakeModel) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return f.md, f.mdError
}

func square(c color.Color, size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNewClassifierWithReferenceModel(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mlm, err := reference.NewModel(
		[]string{"Stop", "Yield"},
		[]image.Image{square(color.NRGBA{R: 200, A: 255}, 32), square(color.White, 32)},
		32,
	)
	test.That(t, err, test.ShouldBeNil)

	classifier, err := NewClassifier(context.Background(), mlm, logger)
	test.That(t, err, test.ShouldBeNil)

	// A larger frame is resized to the model input.
	cls, err := classifier(context.Background(), square(color.NRGBA{R: 210, A: 255}, 100))
	test.That(t, err, test.ShouldBeNil)
	top, ok := cls.Top()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, top.Label(), test.ShouldEqual, "Stop")
	test.That(t, top.Score(), test.ShouldBeGreaterThan, 0.9)
}

func TestNewClassifierQuantizedInput(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := &fakeModel{
		md: mlmodel.MLMetadata{
			ModelName: "quantized",
			Inputs:    []mlmodel.TensorInfo{{Name: "input", DataType: "uint8", Shape: []int{1, 4, 4, 1}}},
			Outputs: []mlmodel.TensorInfo{{
				Name:  "probability",
				Extra: map[string]interface{}{"labels": []string{"Stop", "Yield"}},
			}},
		},
		infer: func(ml.Tensors) (ml.Tensors, error) {
			return ml.Tensors{"out": tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]uint8{51, 204}))}, nil
		},
	}
	classifier, err := NewClassifier(context.Background(), model, logger)
	test.That(t, err, test.ShouldBeNil)

	cls, err := classifier(context.Background(), square(color.White, 4))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.lastIn["input"].Data(), test.ShouldResemble, []uint8{
		255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255,
	})
	top, _ := cls.Top()
	test.That(t, top.Label(), test.ShouldEqual, "Yield")
	test.That(t, top.Score(), test.ShouldAlmostEqual, 0.8, 1e-9)
}

func TestNewClassifierErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := NewClassifier(context.Background(), &fakeModel{mdError: errors.New("offline")}, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "offline")

	_, err = NewClassifier(context.Background(), &fakeModel{md: mlmodel.MLMetadata{ModelName: "empty"}}, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no inputs")

	failing := &fakeModel{
		md: mlmodel.MLMetadata{
			ModelName: "broken",
			Inputs:    []mlmodel.TensorInfo{{Name: "image", DataType: "float32", Shape: []int{1, 8, 8, 1}}},
		},
		infer: func(ml.Tensors) (ml.Tensors, error) { return nil, errors.New("inference failed") },
	}
	_, err = NewClassifier(context.Background(), failing, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "broken cannot be used as a classifier")

	wrongType := &fakeModel{
		md: mlmodel.MLMetadata{
			Inputs: []mlmodel.TensorInfo{{Name: "image", DataType: "int64", Shape: []int{1, 8, 8, 1}}},
		},
	}
	_, err = NewClassifier(context.Background(), wrongType, logger)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid input type")
}
