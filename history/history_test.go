package history

import (
	"image"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/signscan/signscan/scan"
)

func decision(label string, conf float64) scan.Decision {
	var acc scan.Accumulator
	acc.Record(label, conf)
	return scan.Resolve(&acc)
}

func TestHistoryNewestFirst(t *testing.T) {
	mockClock := clock.NewMock()
	h := New(3, mockClock)
	_, ok := h.Latest()
	test.That(t, ok, test.ShouldBeFalse)

	first := h.Add(decision("Stop", 0.9), OriginScan)
	mockClock.Add(time.Minute)
	h.Add(decision("Yield", 0.4), OriginUpload)
	mockClock.Add(time.Minute)
	h.Add(decision("Keep right", 0.7), OriginScan)

	entries := h.List()
	test.That(t, len(entries), test.ShouldEqual, 3)
	test.That(t, entries[0].Label, test.ShouldEqual, "Keep right")
	test.That(t, entries[1].Label, test.ShouldEqual, scan.UnknownLabel)
	test.That(t, entries[1].ConfidenceString, test.ShouldEqual, "40.0%")
	test.That(t, entries[1].Origin, test.ShouldEqual, OriginUpload)
	test.That(t, entries[2].ID, test.ShouldEqual, first.ID)
	test.That(t, entries[2].Time, test.ShouldEqual, entries[0].Time.Add(-2*time.Minute))

	latest, ok := h.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, latest.Label, test.ShouldEqual, "Keep right")

	found, ok := h.Get(first.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, found.Label, test.ShouldEqual, "Stop")

	// Full: the oldest entry goes.
	h.Add(decision("Stop", 0.95), OriginScan)
	entries = h.List()
	test.That(t, h.Len(), test.ShouldEqual, 3)
	test.That(t, entries[2].Label, test.ShouldEqual, scan.UnknownLabel)
	_, ok = h.Get(first.ID)
	test.That(t, ok, test.ShouldBeFalse)

	confident := h.Confident()
	test.That(t, len(confident), test.ShouldEqual, 2)
	test.That(t, confident[0].Label, test.ShouldEqual, "Stop")
	test.That(t, h.Counts(), test.ShouldResemble, map[string]int{"Stop": 1, "Keep right": 1, "Unknown": 1})

	h.Clear()
	test.That(t, h.List(), test.ShouldBeEmpty)
	test.That(t, h.Len(), test.ShouldEqual, 0)
}

func TestHistoryThumbnail(t *testing.T) {
	h := New(0, nil)
	d := decision("Stop", 0.9)
	d.Frame = image.NewNRGBA(image.Rect(0, 0, 640, 480))
	entry := h.Add(d, OriginScan)
	test.That(t, entry.Thumbnail.Bounds(), test.ShouldResemble, image.Rect(0, 0, ThumbnailSize, 72))

	entry = h.Add(decision("Stop", 0.9), OriginScan)
	test.That(t, entry.Thumbnail, test.ShouldBeNil)
}

func TestListIsACopy(t *testing.T) {
	h := New(2, nil)
	h.Add(decision("Stop", 0.9), OriginScan)
	entries := h.List()
	entries[0].Label = "tampered"
	test.That(t, h.List()[0].Label, test.ShouldEqual, "Stop")
}
