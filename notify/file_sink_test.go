package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestFileSink(t *testing.T) {
	_, err := NewFileSink("")
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	test.That(t, err, test.ShouldBeNil)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return at }

	test.That(t, sink.Deliver(context.Background(), Compose("Stop", "91.0%")), test.ShouldBeNil)
	test.That(t, sink.Deliver(context.Background(), Compose("Yield", "70.0%")), test.ShouldBeNil)

	//nolint:gosec
	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()

	var records []fileRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec fileRecord
		test.That(t, json.Unmarshal(scanner.Bytes(), &rec), test.ShouldBeNil)
		records = append(records, rec)
	}
	test.That(t, scanner.Err(), test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 2)
	test.That(t, records[0].Title, test.ShouldEqual, "🛑 STOP Sign Detected")
	test.That(t, records[0].Body, test.ShouldEndWith, "(Confidence: 91.0%)")
	test.That(t, records[0].Tag, test.ShouldEqual, Tag)
	test.That(t, records[1].Time.Equal(at), test.ShouldBeTrue)
}

func TestFileSinkUnwritable(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "alerts.jsonl"))
	test.That(t, err, test.ShouldBeNil)
	err = sink.Deliver(context.Background(), Compose("Stop", "91.0%"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot open notification file")
}
