package scan

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/signscan/signscan/components/camera"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/vision/classification"
)

type result struct {
	label string
	conf  float64
	err   error
}

// scriptedClassifier answers with results in order and repeats the last one.
type scriptedClassifier struct {
	mu      sync.Mutex
	results []result
	inputs  []image.Image
	calls   int
}

func (sc *scriptedClassifier) classify(ctx context.Context, img image.Image) (classification.Classifications, error) {
	sc.mu.Lock()
	idx := sc.calls
	if idx >= len(sc.results) {
		idx = len(sc.results) - 1
	}
	r := sc.results[idx]
	sc.calls++
	sc.inputs = append(sc.inputs, img)
	sc.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return classification.Classifications{classification.NewClassification(r.conf, r.label)}, nil
}

func (sc *scriptedClassifier) numCalls() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.calls
}

type fakeSource struct {
	img     image.Image
	kind    camera.SourceKind
	blinded atomic.Bool
}

func newFakeSource(kind camera.SourceKind) *fakeSource {
	return &fakeSource{img: image.NewNRGBA(image.Rect(0, 0, 64, 48)), kind: kind}
}

func (fs *fakeSource) Read(ctx context.Context) (image.Image, error) {
	return fs.img, nil
}

func (fs *fakeSource) Dimensions() image.Point {
	if fs.blinded.Load() {
		return image.Point{}
	}
	return fs.img.Bounds().Size()
}

func (fs *fakeSource) Streaming() bool {
	return true
}

func (fs *fakeSource) Kind() camera.SourceKind {
	return fs.kind
}

var oneSecond = Options{Period: 250 * time.Millisecond, Duration: time.Second}

func newTestController(t *testing.T) (*Controller, *clock.Mock, chan Decision) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	mockClock := clock.NewMock()
	c := NewController(logger, WithClock(mockClock))
	decisions := make(chan Decision, 4)
	c.OnDecision(func(d Decision) { decisions <- d })
	t.Cleanup(func() {
		test.That(t, c.Close(), test.ShouldBeNil)
	})
	return c, mockClock, decisions
}

func waitForSamples(t *testing.T, c *Controller, n int) {
	t.Helper()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, c.Status().Samples, test.ShouldEqual, n)
	})
}

func waitForDecision(t *testing.T, decisions <-chan Decision) Decision {
	t.Helper()
	select {
	case d := <-decisions:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a decision")
		return Decision{}
	}
}

func expectNoDecision(t *testing.T, decisions <-chan Decision) {
	t.Helper()
	select {
	case d := <-decisions:
		t.Fatalf("unexpected decision %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// runTicks advances the mock clock one period at a time and waits for each sample to land.
func runTicks(t *testing.T, c *Controller, mockClock *clock.Mock, ticks int) {
	t.Helper()
	for i := 1; i <= ticks; i++ {
		mockClock.Add(250 * time.Millisecond)
		if i < ticks {
			waitForSamples(t, c, i)
		}
	}
}

func TestStopIdleControllerIsNoop(t *testing.T) {
	c, _, decisions := newTestController(t)
	c.Stop()
	c.Stop()
	test.That(t, c.Active(), test.ShouldBeFalse)
	test.That(t, c.Status(), test.ShouldResemble, Status{})
	expectNoDecision(t, decisions)
}

func TestStartErrors(t *testing.T) {
	c, _, _ := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 1}}}

	err := c.Start(context.Background(), nil, sc.classify, Options{})
	test.That(t, err, test.ShouldBeError, ErrSourceNotReady)

	blind := newFakeSource(camera.LiveStream)
	blind.blinded.Store(true)
	err = c.Start(context.Background(), blind, sc.classify, Options{})
	test.That(t, errors.Is(err, ErrSourceNotReady), test.ShouldBeTrue)

	stream := camera.NewStream(nil, logging.NewTestLogger(t))
	err = c.Start(context.Background(), stream, sc.classify, Options{})
	test.That(t, err, test.ShouldBeError, ErrSourceNotReady)

	err = c.Start(context.Background(), newFakeSource(camera.LiveStream), nil, Options{})
	test.That(t, err, test.ShouldNotBeNil)

	err = c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, Options{Period: -time.Second})
	test.That(t, err.Error(), test.ShouldContainSubstring, "must be positive")

	err = c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, Options{Threshold: 1.5})
	test.That(t, err.Error(), test.ShouldContainSubstring, "threshold")

	test.That(t, c.Active(), test.ShouldBeFalse)
	test.That(t, sc.numCalls(), test.ShouldEqual, 0)

	test.That(t, c.Close(), test.ShouldBeNil)
	err = c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, Options{})
	test.That(t, err, test.ShouldBeError, ErrClosed)
}

func TestEndToEndScan(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{
		{label: "Yield", conf: 0.9},
		{label: "Yield", conf: 0.9},
		{label: "Yield", conf: 0.9},
		{label: "Yield", conf: 0.5},
	}}
	var samples []Sample
	var samplesMu sync.Mutex
	c.OnSample(func(s Sample) {
		samplesMu.Lock()
		samples = append(samples, s)
		samplesMu.Unlock()
	})
	// Stopping from a subscriber is a no-op, the session already ended.
	c.OnDecision(func(Decision) { c.Stop() })

	src := newFakeSource(camera.LiveStream)
	test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)
	test.That(t, c.Active(), test.ShouldBeTrue)
	status := c.Status()
	test.That(t, status.Active, test.ShouldBeTrue)
	test.That(t, status.SessionID, test.ShouldNotBeEmpty)
	test.That(t, status.StartedAt, test.ShouldEqual, mockClock.Now())

	runTicks(t, c, mockClock, 4)
	decision := waitForDecision(t, decisions)

	test.That(t, decision.Label, test.ShouldEqual, "Yield")
	test.That(t, decision.Confidence, test.ShouldAlmostEqual, 0.8)
	test.That(t, decision.ConfidenceString, test.ShouldEqual, "80.0%")
	test.That(t, decision.IsConfident, test.ShouldBeTrue)
	test.That(t, decision.Samples, test.ShouldEqual, 4)
	test.That(t, decision.SessionID, test.ShouldEqual, status.SessionID)
	test.That(t, decision.EndedAt.Sub(decision.StartedAt), test.ShouldEqual, time.Second)
	test.That(t, decision.Frame, test.ShouldEqual, src.img)

	test.That(t, c.Active(), test.ShouldBeFalse)
	test.That(t, sc.numCalls(), test.ShouldEqual, 4)
	test.That(t, c.Status().SessionID, test.ShouldEqual, status.SessionID)

	samplesMu.Lock()
	test.That(t, len(samples), test.ShouldEqual, 4)
	for i, s := range samples {
		test.That(t, s.Seq, test.ShouldEqual, i+1)
		test.That(t, s.SessionID, test.ShouldEqual, status.SessionID)
	}
	samplesMu.Unlock()

	// The timers are gone with the session.
	mockClock.Add(time.Second)
	expectNoDecision(t, decisions)
	test.That(t, sc.numCalls(), test.ShouldEqual, 4)
}

func TestSecondStartKeepsRunningSession(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.8}}}
	src := newFakeSource(camera.LiveStream)

	test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)
	first := c.Status().SessionID

	mockClock.Add(250 * time.Millisecond)
	waitForSamples(t, c, 1)

	err := c.Start(context.Background(), src, sc.classify, oneSecond)
	test.That(t, err, test.ShouldBeError, ErrAlreadyActive)
	test.That(t, c.Status().SessionID, test.ShouldEqual, first)
	test.That(t, c.Status().Samples, test.ShouldEqual, 1)

	// A second ticker would double the samples per period.
	mockClock.Add(250 * time.Millisecond)
	waitForSamples(t, c, 2)
	mockClock.Add(250 * time.Millisecond)
	waitForSamples(t, c, 3)
	test.That(t, sc.numCalls(), test.ShouldEqual, 3)

	mockClock.Add(250 * time.Millisecond)
	decision := waitForDecision(t, decisions)
	test.That(t, decision.SessionID, test.ShouldEqual, first)
	test.That(t, decision.Samples, test.ShouldEqual, 4)
	test.That(t, decision.Label, test.ShouldEqual, "Stop")
	expectNoDecision(t, decisions)
}

func TestStopDiscardsSession(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.9}}}

	test.That(t, c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, oneSecond), test.ShouldBeNil)
	mockClock.Add(250 * time.Millisecond)
	waitForSamples(t, c, 1)

	c.Stop()
	test.That(t, c.Active(), test.ShouldBeFalse)
	mockClock.Add(2 * time.Second)
	expectNoDecision(t, decisions)

	// The controller can scan again right away.
	test.That(t, c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, oneSecond), test.ShouldBeNil)
	test.That(t, c.Status().Samples, test.ShouldEqual, 0)
	runTicks(t, c, mockClock, 4)
	decision := waitForDecision(t, decisions)
	test.That(t, decision.Samples, test.ShouldEqual, 4)
}

func TestCancelledContextAbortsSession(t *testing.T) {
	c, _, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.9}}}

	ctx, cancel := context.WithCancel(context.Background())
	test.That(t, c.Start(ctx, newFakeSource(camera.LiveStream), sc.classify, oneSecond), test.ShouldBeNil)
	cancel()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, c.Active(), test.ShouldBeFalse)
	})
	expectNoDecision(t, decisions)
}

func TestLateSampleIsDiscarded(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	entered := make(chan context.Context, 1)
	release := make(chan struct{})
	slow := func(ctx context.Context, img image.Image) (classification.Classifications, error) {
		entered <- ctx
		<-release
		return classification.Classifications{classification.NewClassification(0.99, "Stop")}, nil
	}
	var recorded atomic.Int32
	c.OnSample(func(Sample) { recorded.Add(1) })

	test.That(t, c.Start(context.Background(), newFakeSource(camera.LiveStream), slow, oneSecond), test.ShouldBeNil)
	mockClock.Add(250 * time.Millisecond)
	var classifyCtx context.Context
	select {
	case classifyCtx = <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("classifier never called")
	}

	c.Stop()
	test.That(t, classifyCtx.Err(), test.ShouldNotBeNil)
	close(release)

	expectNoDecision(t, decisions)
	test.That(t, recorded.Load(), test.ShouldEqual, 0)
	test.That(t, c.Status().Samples, test.ShouldEqual, 0)
}

func TestSkippedTicks(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := clock.NewMock()
	c := NewController(logger, WithClock(mockClock))
	defer func() {
		test.That(t, c.Close(), test.ShouldBeNil)
	}()
	decisions := make(chan Decision, 1)
	c.OnDecision(func(d Decision) { decisions <- d })

	sc := &scriptedClassifier{results: []result{
		{err: errors.New("model crashed")},
		{label: "Keep right", conf: 0.7},
	}}
	src := newFakeSource(camera.LiveStream)
	test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)

	// tick 1: source not ready
	src.blinded.Store(true)
	mockClock.Add(250 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("frame source not ready, skipping sample").Len(), test.ShouldEqual, 1)
	})
	test.That(t, sc.numCalls(), test.ShouldEqual, 0)

	// tick 2: classifier error
	src.blinded.Store(false)
	mockClock.Add(250 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("classification failed, skipping sample").Len(), test.ShouldEqual, 1)
	})
	test.That(t, c.Status().Samples, test.ShouldEqual, 0)

	// ticks 3 and 4 record
	mockClock.Add(250 * time.Millisecond)
	waitForSamples(t, c, 1)
	mockClock.Add(250 * time.Millisecond)

	decision := waitForDecision(t, decisions)
	test.That(t, decision.Label, test.ShouldEqual, "Keep right")
	test.That(t, decision.Samples, test.ShouldEqual, 2)
	test.That(t, decision.ConfidenceString, test.ShouldEqual, "70.0%")
}

func TestSessionWithoutSamplesIsUnknown(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.9}}}
	src := newFakeSource(camera.LiveStream)
	test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)
	src.blinded.Store(true)

	mockClock.Add(time.Second)
	decision := waitForDecision(t, decisions)
	test.That(t, decision.Label, test.ShouldEqual, UnknownLabel)
	test.That(t, decision.ConfidenceString, test.ShouldEqual, "0.0%")
	test.That(t, decision.Confidence, test.ShouldEqual, 0.0)
	test.That(t, decision.Frame, test.ShouldBeNil)
	test.That(t, sc.numCalls(), test.ShouldEqual, 0)
}

func TestLowConfidenceIsUnknown(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.5}}}
	test.That(t, c.Start(context.Background(), newFakeSource(camera.LiveStream), sc.classify, oneSecond), test.ShouldBeNil)
	runTicks(t, c, mockClock, 4)

	decision := waitForDecision(t, decisions)
	test.That(t, decision.Label, test.ShouldEqual, UnknownLabel)
	test.That(t, decision.IsConfident, test.ShouldBeFalse)
	test.That(t, decision.ConfidenceString, test.ShouldEqual, "50.0%")
}

func TestCaptureFollowsSourceKind(t *testing.T) {
	// Blue frame with a red aiming square in the middle.
	frame := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.NRGBA{B: 255, A: 255}), image.Point{}, draw.Src)
	draw.Draw(frame, image.Rect(35, 10, 65, 40), image.NewUniform(color.NRGBA{R: 255, A: 255}), image.Point{}, draw.Src)

	for _, tc := range []struct {
		kind       camera.SourceKind
		cornerBlue bool
	}{
		{camera.LiveStream, false},
		{camera.StaticImage, true},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			c, mockClock, _ := newTestController(t)
			sc := &scriptedClassifier{results: []result{{label: "Stop", conf: 0.9}}}
			src := &fakeSource{img: frame, kind: tc.kind}
			test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)
			mockClock.Add(250 * time.Millisecond)
			waitForSamples(t, c, 1)

			sc.mu.Lock()
			captured := sc.inputs[0]
			sc.mu.Unlock()
			test.That(t, captured.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 32))
			_, _, b, _ := captured.At(0, 0).RGBA()
			test.That(t, b>>8 > 200, test.ShouldEqual, tc.cornerBlue)
		})
	}
}

func TestStartFromDecisionSubscriber(t *testing.T) {
	c, mockClock, decisions := newTestController(t)
	sc := &scriptedClassifier{results: []result{{label: "Yield", conf: 0.9}}}
	src := newFakeSource(camera.LiveStream)
	restarted := make(chan error, 1)
	var once sync.Once
	c.OnDecision(func(Decision) {
		once.Do(func() {
			restarted <- c.Start(context.Background(), src, sc.classify, oneSecond)
		})
	})

	test.That(t, c.Start(context.Background(), src, sc.classify, oneSecond), test.ShouldBeNil)
	runTicks(t, c, mockClock, 4)
	first := waitForDecision(t, decisions)
	test.That(t, <-restarted, test.ShouldBeNil)
	test.That(t, c.Active(), test.ShouldBeTrue)
	test.That(t, c.Status().SessionID, test.ShouldNotEqual, first.SessionID)
}
