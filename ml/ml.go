// Package ml provides the tensor plumbing between a model service and image classifications.
package ml

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/signscan/signscan/utils"
	"github.com/signscan/signscan/vision/classification"
)

// Tensors are a collection of named tensors passed to and returned from a model.
type Tensors map[string]*tensor.Dense

const classifierProbabilityName = "probability"

// FormatClassificationOutputs turns the probability tensor of a model's outputs into
// classifications. A single output tensor is assumed to hold probabilities whatever its name;
// the resolved name is cached in outNameMap. Logits are passed through softmax (or sigmoid for a
// binary classifier) first.
func FormatClassificationOutputs(
	outNameMap *sync.Map, outMap Tensors, labels []string,
) (classification.Classifications, error) {
	pName, ok := outNameMap.Load(classifierProbabilityName)
	if !ok {
		if _, ok := outMap[classifierProbabilityName]; ok {
			outNameMap.Store(classifierProbabilityName, classifierProbabilityName)
			pName = classifierProbabilityName
		} else if len(outMap) == 1 {
			for name := range outMap {
				outNameMap.Store(classifierProbabilityName, name)
				pName = name
			}
		}
	}
	probabilityName, ok := pName.(string)
	if !ok {
		return nil, errors.Errorf("no tensor named 'probability' among output tensors [%s]", strings.Join(TensorNames(outMap), ", "))
	}
	data, ok := outMap[probabilityName]
	if !ok {
		return nil, errors.Errorf("no tensor named %q among output tensors [%s]", probabilityName, strings.Join(TensorNames(outMap), ", "))
	}
	probs, err := convertToFloat64Slice(data.Data())
	if err != nil {
		return nil, err
	}
	if len(probs) == 0 {
		return nil, errors.New("model returned an empty probability tensor")
	}
	confs := checkClassificationScores(probs)
	if labels != nil && len(labels) != len(confs) {
		return nil, errors.Errorf("length of output (%d) expected to be length of label list (%d)", len(confs), len(labels))
	}
	classifications := make(classification.Classifications, 0, len(confs))
	for i, conf := range confs {
		label := strconv.Itoa(i)
		if labels != nil {
			label = labels[i]
		}
		classifications = append(classifications, classification.NewClassification(conf, label))
	}
	return classifications, nil
}

func convertToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return v, nil
	case float64:
		return []float64{v}, nil
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	case float32:
		return []float64{float64(v)}, nil
	case []uint8:
		// Quantized outputs map 0..255 onto 0..1.
		out := make([]float64, len(v))
		for i, b := range v {
			out[i] = float64(b) / 255
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	default:
		return nil, utils.NewUnexpectedTypeError([]float64{}, slice)
	}
}

// Softmax turns logits into probabilities that sum to one.
func Softmax(in []float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	// Shifting by the max keeps math.Exp from overflowing.
	shift := floats.Max(in)
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = math.Exp(x - shift)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// checkClassificationScores makes sure the scores are confidences in [0, 1].
func checkClassificationScores(in []float64) []float64 {
	if len(in) > 1 {
		for _, p := range in {
			if p < 0 || p > 1 {
				return Softmax(in)
			}
		}
		return in
	}
	// binary classifier
	if in[0] < -1 || in[0] > 1 {
		out, err := stats.Sigmoid(in)
		if err != nil {
			return in
		}
		return out
	}
	return in
}

// TensorNames returns the sorted names of the tensors.
func TensorNames(t Tensors) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
