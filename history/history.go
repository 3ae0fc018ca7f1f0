// Package history keeps the most recent scan decisions in memory.
package history

import (
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/scan"
)

const (
	// DefaultCapacity is the number of entries kept when none is configured.
	DefaultCapacity = 50
	// ThumbnailSize is the longest side of a stored frame.
	ThumbnailSize = 96
)

// Origin tells how a decision was reached.
type Origin string

const (
	// OriginScan is a timed camera scan.
	OriginScan Origin = "scan"
	// OriginUpload is a single classification of an uploaded image.
	OriginUpload Origin = "upload"
)

// Entry is one remembered decision.
type Entry struct {
	ID               string
	Time             time.Time
	Origin           Origin
	Label            string
	Confidence       float64
	ConfidenceString string
	IsConfident      bool
	Samples          int
	// Thumbnail is a small copy of the decision's frame, when there was one.
	Thumbnail image.Image
}

// History is a bounded list of decisions, newest first. It is safe for concurrent use.
type History struct {
	clk      clock.Clock
	capacity int

	mu      sync.Mutex
	entries []Entry
}

// New returns an empty history keeping at most capacity entries.
func New(capacity int, clk clock.Clock) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &History{clk: clk, capacity: capacity}
}

// Add records a decision and returns its entry. The oldest entry is dropped when full.
func (h *History) Add(d scan.Decision, origin Origin) Entry {
	entry := Entry{
		ID:               uuid.NewString(),
		Time:             h.clk.Now(),
		Origin:           origin,
		Label:            d.Label,
		Confidence:       d.Confidence,
		ConfidenceString: d.ConfidenceString,
		IsConfident:      d.IsConfident,
		Samples:          d.Samples,
	}
	if d.Frame != nil {
		entry.Thumbnail = rimage.Thumbnail(d.Frame, ThumbnailSize)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Entry{entry}, h.entries...)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[:h.capacity]
	}
	return entry
}

// List returns every entry, newest first.
func (h *History) List() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry{}, h.entries...)
}

// Latest returns the newest entry.
func (h *History) Latest() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[0], true
}

// Get returns the entry with the given id.
func (h *History) Get(id string) (Entry, bool) {
	return lo.Find(h.List(), func(e Entry) bool {
		return e.ID == id
	})
}

// Confident returns the entries that named a sign, newest first.
func (h *History) Confident() []Entry {
	return lo.Filter(h.List(), func(e Entry, _ int) bool {
		return e.IsConfident
	})
}

// Counts returns how often each label was decided.
func (h *History) Counts() map[string]int {
	return lo.CountValuesBy(h.List(), func(e Entry) string {
		return e.Label
	})
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
