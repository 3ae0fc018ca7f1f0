package classification

import (
	"context"
	"image"
	"strings"
)

// Postprocessor defines a function that filters/modifies on an incoming array of Classifications.
type Postprocessor func(Classifications) Classifications

// NewScoreFilter returns a function that filters out classifications below a certain confidence
// score.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in Classifications) Classifications {
		out := make(Classifications, 0, len(in))
		for _, c := range in {
			if c.Score() >= conf {
				out = append(out, c)
			}
		}
		return out
	}
}

// NewLabelFilter returns a function that keeps only classifications with one of the chosen
// labels. Matching is case-insensitive. An empty label set does not filter.
func NewLabelFilter(labels []string) Postprocessor {
	keep := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		keep[strings.ToLower(l)] = struct{}{}
	}
	return func(in Classifications) Classifications {
		if len(keep) == 0 {
			return in
		}
		out := make(Classifications, 0, len(in))
		for _, c := range in {
			if _, ok := keep[strings.ToLower(c.Label())]; ok {
				out = append(out, c)
			}
		}
		return out
	}
}

// WithPostprocessors wraps a classifier so that every result passes through the postprocessors
// in order.
func WithPostprocessors(classifier Classifier, procs ...Postprocessor) Classifier {
	return func(ctx context.Context, img image.Image) (Classifications, error) {
		out, err := classifier(ctx, img)
		if err != nil {
			return nil, err
		}
		for _, p := range procs {
			out = p(out)
		}
		return out, nil
	}
}
