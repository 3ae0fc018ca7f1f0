// Package classification defines image classification results and the classifier function type.
package classification

import (
	"context"
	"image"
	"sort"
)

// Classification returns a confidence score of the classification and a label of the class.
type Classification interface {
	Score() float64
	Label() string
}

// Classifications is a list of the Classification object.
type Classifications []Classification

// Classifier defines a function that takes images as input and returns the classifications
// found in the image.
type Classifier func(context.Context, image.Image) (Classifications, error)

// NewClassification creates a simple 2D classification.
func NewClassification(score float64, label string) Classification {
	return &classification2D{label: label, score: score}
}

// classification2D is a simple struct for storing 2D classifications.
type classification2D struct {
	label string
	score float64
}

// Score returns a confidence score of the classification between 0.0 and 1.0.
func (c *classification2D) Score() float64 {
	return c.score
}

// Label returns the class label of the object in the image.
func (c *classification2D) Label() string {
	return c.label
}

// TopN finds the N Classifications with the highest confidence scores. Equal scores keep their
// original order.
func (cls Classifications) TopN(n int) Classifications {
	sorted := make(Classifications, len(cls))
	copy(sorted, cls)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score() > sorted[j].Score()
	})
	if n < 0 {
		n = 0
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Top returns the highest scoring classification. The first one wins a tie, matching an argmax
// over the model's output.
func (cls Classifications) Top() (Classification, bool) {
	if len(cls) == 0 {
		return nil, false
	}
	best := cls[0]
	for _, c := range cls[1:] {
		if c.Score() > best.Score() {
			best = c
		}
	}
	return best, true
}
