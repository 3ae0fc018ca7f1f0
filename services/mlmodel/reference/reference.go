// Package reference implements a model service that classifies an input by comparing it with a
// reference image of every sign. It stands in for a trained network when only the reference
// pictures are available.
package reference

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/ml"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/services/mlmodel"
)

const (
	// InputName is the name of the model's single image input.
	InputName = "image"
	// OutputName is the name of the model's probability output.
	OutputName = "probability"
	// DefaultSharpness scales template distances before softmax. Larger values make the
	// model more decisive.
	DefaultSharpness = 20.0
)

// Template pairs a label with the path of its reference image.
type Template struct {
	Label string
	Path  string
}

type model struct {
	size      int
	sharpness float64
	labels    []string
	templates [][]float64
}

// NewModel builds a reference model from in-memory images keyed by label, in label order.
func NewModel(labels []string, images []image.Image, inputSize int) (mlmodel.Service, error) {
	if len(labels) == 0 || len(labels) != len(images) {
		return nil, errors.Errorf("need one image per label, got %d labels and %d images", len(labels), len(images))
	}
	if inputSize <= 0 {
		inputSize = rimage.DefaultInputSize
	}
	m := &model{size: inputSize, sharpness: DefaultSharpness, labels: labels}
	for _, img := range images {
		m.templates = append(m.templates, toFloat64(rimage.ImageToFloatBuffer(rimage.CaptureFrame(img, inputSize, 0))))
	}
	return m, nil
}

// NewModelFromFiles loads every template image it can find. Missing or unreadable templates are
// logged and skipped; it fails only when none load.
func NewModelFromFiles(templates []Template, inputSize int, logger logging.Logger) (mlmodel.Service, error) {
	labels := make([]string, 0, len(templates))
	images := make([]image.Image, 0, len(templates))
	for _, tmpl := range templates {
		img, err := rimage.NewImageFromFile(tmpl.Path)
		if err != nil {
			logger.Debugw("skipping reference image", "label", tmpl.Label, "error", err)
			continue
		}
		labels = append(labels, tmpl.Label)
		images = append(images, img)
	}
	if len(labels) == 0 {
		return nil, errors.New("no reference images could be loaded")
	}
	logger.Infow("loaded reference model", "templates", len(labels), "skipped", len(templates)-len(labels))
	return NewModel(labels, images, inputSize)
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, f := range in {
		out[i] = float64(f)
	}
	return out
}

// Infer scores the input against every template. Closer templates get higher probabilities.
func (m *model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	input, ok := tensors[InputName]
	if !ok {
		return nil, errors.Errorf("no input tensor named %q among [%v]", InputName, ml.TensorNames(tensors))
	}
	var data []float64
	switch v := input.Data().(type) {
	case []float32:
		data = toFloat64(v)
	case []float64:
		data = v
	default:
		return nil, errors.Errorf("reference model expects float input, got %T", v)
	}
	if len(data) != m.size*m.size {
		return nil, errors.Errorf("expected %d input values, got %d", m.size*m.size, len(data))
	}

	logits := make([]float64, len(m.templates))
	for i, tmpl := range m.templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rms := floats.Distance(data, tmpl, 2) / math.Sqrt(float64(len(data)))
		logits[i] = -m.sharpness * rms
	}
	probs := ml.Softmax(logits)
	return ml.Tensors{
		OutputName: tensor.New(tensor.WithShape(1, len(probs)), tensor.WithBacking(probs)),
	}, nil
}

func (m *model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return mlmodel.MLMetadata{
		ModelName:        "reference",
		ModelType:        "image_classifier",
		ModelDescription: "nearest reference image",
		Inputs: []mlmodel.TensorInfo{{
			Name:     InputName,
			DataType: "float32",
			Shape:    []int{1, m.size, m.size, 1},
		}},
		Outputs: []mlmodel.TensorInfo{{
			Name:     OutputName,
			DataType: "float64",
			Shape:    []int{1, len(m.labels)},
			Extra:    map[string]interface{}{"labels": m.labels},
		}},
	}, nil
}
