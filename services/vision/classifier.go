// Package vision builds image classifiers on top of model services.
package vision

import (
	"context"
	"image"
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/ml"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/services/mlmodel"
	"github.com/signscan/signscan/vision/classification"
)

// NewClassifier builds a classifier that resizes an image to the model's input, runs inference
// and formats the probability output. The classifier is checked once against a blank image so a
// mismatched model fails here rather than on the first scan.
func NewClassifier(ctx context.Context, mlm mlmodel.Service, logger logging.Logger) (classification.Classifier, error) {
	md, err := mlm.Metadata(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read model metadata")
	}
	if len(md.Inputs) == 0 {
		return nil, errors.Errorf("model %s has no inputs", md.ModelName)
	}
	input := md.Inputs[0]
	inHeight, inWidth, err := input.InputSize()
	if err != nil {
		return nil, err
	}
	labels, err := md.Labels()
	if err != nil {
		logger.Debugw("model has no labels, classes will be numbered", "model", md.ModelName, "error", err)
		labels = nil
	}

	// caches which output tensor holds the probabilities
	var outNameMap sync.Map
	classifier := func(ctx context.Context, img image.Image) (classification.Classifications, error) {
		if size := img.Bounds().Size(); size.X != inWidth || size.Y != inHeight {
			img = resize.Resize(uint(inWidth), uint(inHeight), img, resize.Bilinear)
		}
		var backing interface{}
		switch input.DataType {
		case "float32":
			backing = rimage.ImageToFloatBuffer(img)
		case "uint8":
			backing = rimage.ImageToUInt8Buffer(img)
		default:
			return nil, errors.Errorf("invalid input type %q. try uint8 or float32", input.DataType)
		}
		inMap := ml.Tensors{
			input.Name: tensor.New(tensor.WithShape(1, inHeight, inWidth, 1), tensor.WithBacking(backing)),
		}
		outMap, err := mlm.Infer(ctx, inMap)
		if err != nil {
			return nil, err
		}
		return ml.FormatClassificationOutputs(&outNameMap, outMap, labels)
	}

	if err := checkIfClassifierWorks(ctx, classifier, inWidth, inHeight); err != nil {
		return nil, errors.Wrapf(err, "model %s cannot be used as a classifier", md.ModelName)
	}
	logger.Infow("model fulfills a classifier", "model", md.ModelName, "labels", len(labels))
	return classifier, nil
}

func checkIfClassifierWorks(ctx context.Context, cf classification.Classifier, width, height int) error {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	cls, err := cf(ctx, img)
	if err != nil {
		return err
	}
	if len(cls) == 0 {
		return errors.New("classifier returned no classifications")
	}
	return nil
}
