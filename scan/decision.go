package scan

import (
	"image"
	"strconv"
	"time"
)

const (
	// ConfidenceThreshold is the lowest mean confidence that still names a sign. It is inclusive.
	ConfidenceThreshold = 0.60
	// UnknownLabel is reported when a session is not confident or recorded nothing.
	UnknownLabel = "Unknown"
)

// Decision is the outcome of a completed scan session.
type Decision struct {
	Label            string
	Confidence       float64
	ConfidenceString string
	IsConfident      bool

	// Filled in by the controller.
	SessionID string
	Samples   int
	StartedAt time.Time
	EndedAt   time.Time
	// Frame is the last frame that produced a sample, if any.
	Frame image.Image
}

// Resolve turns an accumulator into a decision using ConfidenceThreshold.
func Resolve(acc *Accumulator) Decision {
	return ResolveWithThreshold(acc, ConfidenceThreshold)
}

// ResolveWithThreshold picks the best label of acc and reports UnknownLabel when its mean
// confidence is below threshold or nothing was recorded. The mean is reported either way.
func ResolveWithThreshold(acc *Accumulator, threshold float64) Decision {
	label, avg, ok := acc.BestLabel()
	if !ok {
		label, avg = UnknownLabel, 0
	}
	confident := ok && avg >= threshold
	if !confident {
		label = UnknownLabel
	}
	return Decision{
		Label:            label,
		Confidence:       avg,
		ConfidenceString: FormatConfidence(avg),
		IsConfident:      confident,
		Samples:          acc.Samples(),
	}
}

// FormatConfidence renders a confidence in [0, 1] as a percentage with one decimal, e.g.
// 0.8345 becomes "83.5%".
func FormatConfidence(confidence float64) string {
	return strconv.FormatFloat(confidence*100, 'f', 1, 64) + "%"
}
