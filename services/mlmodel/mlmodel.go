// Package mlmodel defines the model service a classifier runs inference through.
package mlmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/signscan/signscan/ml"
)

// Service runs inference on named input tensors and describes the tensors it expects and returns.
type Service interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (MLMetadata, error)
}

// MLMetadata contains the metadata of the model in file format.
type MLMetadata struct {
	ModelName        string
	ModelType        string // e.g. image_classifier
	ModelDescription string
	Inputs           []TensorInfo
	Outputs          []TensorInfo
}

// TensorInfo contains the information about a tensor the model expects or returns.
type TensorInfo struct {
	Name        string // e.g. image
	Description string
	DataType    string // e.g. uint8, float32
	Shape       []int
	// Extra carries model specific details. A "labels" entry holds either the label list
	// itself or the path to a label file.
	Extra map[string]interface{}
}

// InputSize returns the height and width of an image input, accepting both
// [batch, height, width, channels] and [batch, channels, height, width] layouts.
func (tf TensorInfo) InputSize() (height, width int, err error) {
	shape := tf.Shape
	if len(shape) != 4 {
		return 0, 0, errors.Errorf("input tensor %q should have 4 dimensions, got shape %v", tf.Name, shape)
	}
	if shape[1] == 1 || shape[1] == 3 {
		return shape[2], shape[3], nil
	}
	return shape[1], shape[2], nil
}

// Labels returns the labels attached to the first probability-like output, reading them from a
// file when a path is given.
func (mm MLMetadata) Labels() ([]string, error) {
	for _, o := range mm.Outputs {
		name := strings.ToLower(o.Name)
		if len(mm.Outputs) > 1 && !strings.Contains(name, "probability") && !strings.Contains(name, "category") {
			continue
		}
		switch labels := o.Extra["labels"].(type) {
		case []string:
			return labels, nil
		case string:
			return ml.ReadLabels(labels)
		case nil:
		default:
			return nil, errors.Errorf("cannot use labels of type %T", labels)
		}
	}
	return nil, errors.New("could not find labels")
}

func (mm MLMetadata) String() string {
	return fmt.Sprintf("%s (%s) %d inputs %d outputs", mm.ModelName, mm.ModelType, len(mm.Inputs), len(mm.Outputs))
}
