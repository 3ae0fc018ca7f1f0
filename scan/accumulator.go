package scan

// labelStats is the running total for one label.
type labelStats struct {
	label string
	sum   float64
	count int
}

// Accumulator keeps a running mean confidence per label across the samples of one session.
// Labels are remembered in the order they were first seen. The zero value is ready to use.
type Accumulator struct {
	order   []*labelStats
	byLabel map[string]*labelStats
	samples int
}

// Reset forgets every recorded sample.
func (a *Accumulator) Reset() {
	a.order = nil
	a.byLabel = nil
	a.samples = 0
}

// Record folds one sample into the label's running total as a plain running mean, with no decay
// or weighting. The confidence is sanitized before it is added: NaN and negative values count as
// 0 and values above 1 count as 1, so a misbehaving classifier cannot push an average out of
// [0, 1].
func (a *Accumulator) Record(label string, confidence float64) {
	switch {
	case confidence < 0 || confidence != confidence:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	if a.byLabel == nil {
		a.byLabel = map[string]*labelStats{}
	}
	stats, ok := a.byLabel[label]
	if !ok {
		stats = &labelStats{label: label}
		a.byLabel[label] = stats
		a.order = append(a.order, stats)
	}
	stats.sum += confidence
	stats.count++
	a.samples++
}

// BestLabel returns the label with the highest mean confidence. The label seen first wins a tie.
// ok is false when nothing has been recorded.
func (a *Accumulator) BestLabel() (label string, avg float64, ok bool) {
	for _, stats := range a.order {
		mean := stats.sum / float64(stats.count)
		if !ok || mean > avg {
			label, avg, ok = stats.label, mean, true
		}
	}
	return label, avg, ok
}

// stats returns the running sum and count of a label.
func (a *Accumulator) stats(label string) (sum float64, count int, ok bool) {
	stats, ok := a.byLabel[label]
	if !ok {
		return 0, 0, false
	}
	return stats.sum, stats.count, true
}

// labels returns the recorded labels in first-seen order.
func (a *Accumulator) labels() []string {
	labels := make([]string, 0, len(a.order))
	for _, stats := range a.order {
		labels = append(labels, stats.label)
	}
	return labels
}

// Samples returns how many samples have been recorded.
func (a *Accumulator) Samples() int {
	return a.samples
}
