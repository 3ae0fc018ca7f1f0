// Package scan implements timed multi-frame classification of traffic signs. A Controller
// samples a frame source at a fixed period, classifies every sample, keeps a running mean
// confidence per label and resolves one Decision when the session's time is up.
package scan

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/signscan/signscan/components/camera"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/utils"
	"github.com/signscan/signscan/vision/classification"
)

var (
	// ErrSourceNotReady is returned by Start when the frame source is not streaming.
	ErrSourceNotReady = errors.New("frame source is not ready")
	// ErrAlreadyActive is returned by Start while another session is running.
	ErrAlreadyActive = errors.New("a scan is already active")
	// ErrClosed is returned by Start once the controller has been closed.
	ErrClosed = errors.New("scan controller is closed")
)

const (
	// DefaultPeriod is the time between two samples.
	DefaultPeriod = 250 * time.Millisecond
	// DefaultDuration is the length of a session.
	DefaultDuration = 4 * time.Second
)

// Options configure one scan session. Zero values take the defaults.
type Options struct {
	Period    time.Duration
	Duration  time.Duration
	Threshold float64
	// InputSize is the side of the square image handed to the classifier.
	InputSize int
	// CropFraction is the share of the shorter side a live frame is cropped to.
	CropFraction float64
}

// DefaultOptions returns the options of a regular four second scan.
func DefaultOptions() Options {
	return Options{
		Period:       DefaultPeriod,
		Duration:     DefaultDuration,
		Threshold:    ConfidenceThreshold,
		InputSize:    rimage.DefaultInputSize,
		CropFraction: rimage.DefaultCropFraction,
	}
}

// WithDefaults fills zero fields from DefaultOptions and rejects negative durations or a threshold
// outside [0, 1].
func (o Options) WithDefaults() (Options, error) {
	def := DefaultOptions()
	if o.Period < 0 || o.Duration < 0 {
		return o, errors.Errorf("scan period (%s) and duration (%s) must be positive", o.Period, o.Duration)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return o, errors.Errorf("confidence threshold %v must be within [0, 1]", o.Threshold)
	}
	if o.Period == 0 {
		o.Period = def.Period
	}
	if o.Duration == 0 {
		o.Duration = def.Duration
	}
	if o.Threshold == 0 {
		o.Threshold = def.Threshold
	}
	if o.InputSize <= 0 {
		o.InputSize = def.InputSize
	}
	if o.CropFraction <= 0 || o.CropFraction > 1 {
		o.CropFraction = def.CropFraction
	}
	return o, nil
}

// Sample is one classified frame of a session.
type Sample struct {
	SessionID  string
	Seq        int
	Label      string
	Confidence float64
}

// Status describes the controller's current session.
type Status struct {
	Active    bool
	SessionID string
	StartedAt time.Time
	Samples   int
}

// session is one Scanning period. Its ticker and finalizer live and die with its goroutine.
type session struct {
	id         string
	opts       Options
	source     camera.Source
	classifier classification.Classifier
	startedAt  time.Time
	cancel     context.CancelFunc

	// guarded by the controller's mutex
	acc       Accumulator
	lastFrame image.Image

	// only touched by the session goroutine
	seq int
}

// Controller runs at most one scan session at a time.
type Controller struct {
	clk     clock.Clock
	logger  logging.Logger
	workers utils.StoppableWorkers

	mu          sync.Mutex
	closed      bool
	session     *session
	onDecision  []func(Decision)
	onSample    []func(Sample)
	lastSession string
}

// ControllerOption changes how a Controller is built.
type ControllerOption func(*Controller)

// WithClock makes the controller time its sessions with clk.
func WithClock(clk clock.Clock) ControllerOption {
	return func(c *Controller) {
		c.clk = clk
	}
}

// NewController returns an idle controller.
func NewController(logger logging.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		clk:     clock.New(),
		logger:  logger,
		workers: utils.NewStoppableWorkers(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDecision registers fn to receive the decision of every session that runs to completion.
// Subscribers run on the session goroutine after the controller is idle again, so they may
// start the next session.
func (c *Controller) OnDecision(fn func(Decision)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDecision = append(c.onDecision, fn)
}

// OnSample registers fn to receive every recorded sample. It must not block for long.
func (c *Controller) OnSample(fn func(Sample)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSample = append(c.onSample, fn)
}

// Start begins a session sampling source through classifier. Cancelling ctx aborts the session
// the same way Stop does. A running session is left untouched when Start fails.
func (c *Controller) Start(ctx context.Context, source camera.Source, classifier classification.Classifier, opts Options) error {
	if classifier == nil {
		return errors.New("scan needs a classifier")
	}
	opts, err := opts.WithDefaults()
	if err != nil {
		return err
	}
	if !camera.Ready(source) {
		return ErrSourceNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.session != nil {
		return ErrAlreadyActive
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:         uuid.NewString(),
		opts:       opts,
		source:     source,
		classifier: classifier,
		startedAt:  c.clk.Now(),
		cancel:     cancel,
	}
	// The ticker is created first so that a tick due with the finalizer is delivered first.
	ticker := c.clk.Ticker(opts.Period)
	finalizer := c.clk.Timer(opts.Duration)
	c.session = s
	c.lastSession = s.id
	c.workers.AddWorkers(func(workersCtx context.Context) {
		c.run(sessCtx, workersCtx, s, ticker, finalizer)
	})

	c.logger.CInfow(ctx, "scan started",
		"session", s.id, "period", opts.Period, "duration", opts.Duration, "source", source.Kind())
	return nil
}

func (c *Controller) run(ctx, workersCtx context.Context, s *session, ticker *clock.Ticker, finalizer *clock.Timer) {
	defer s.cancel()
	defer ticker.Stop()
	defer finalizer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abandon(ctx, s)
			return
		case <-workersCtx.Done():
			c.abandon(ctx, s)
			return
		case <-ticker.C:
			c.tick(ctx, s)
		case <-finalizer.C:
			select {
			case <-ticker.C:
				c.tick(ctx, s)
			default:
			}
			c.finish(ctx, s)
			return
		}
	}
}

func (c *Controller) tick(ctx context.Context, s *session) {
	s.seq++
	if !camera.Ready(s.source) {
		c.logger.CDebugw(ctx, "frame source not ready, skipping sample", "session", s.id, "seq", s.seq)
		return
	}
	frame, err := s.source.Read(ctx)
	if err != nil {
		c.logger.CDebugw(ctx, "cannot read frame, skipping sample", "session", s.id, "seq", s.seq, "error", err)
		return
	}

	cropFraction := s.opts.CropFraction
	if s.source.Kind() == camera.StaticImage {
		cropFraction = 0
	}
	captured := rimage.CaptureFrame(frame, s.opts.InputSize, cropFraction)

	classifications, err := s.classifier(ctx, captured)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.CDebugw(ctx, "classification cancelled", "session", s.id, "seq", s.seq)
		} else {
			c.logger.CWarnw(ctx, "classification failed, skipping sample", "session", s.id, "seq", s.seq, "error", err)
		}
		return
	}
	top, ok := classifications.Top()
	if !ok {
		c.logger.CWarnw(ctx, "classifier returned nothing, skipping sample", "session", s.id, "seq", s.seq)
		return
	}
	sample := Sample{SessionID: s.id, Seq: s.seq, Label: top.Label(), Confidence: top.Score()}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		c.logger.CDebugw(ctx, "discarding sample of a finished session", "session", s.id, "seq", s.seq)
		return
	}
	s.acc.Record(sample.Label, sample.Confidence)
	s.lastFrame = frame
	subscribers := append([]func(Sample){}, c.onSample...)
	c.mu.Unlock()

	c.logger.CDebugw(ctx, "sample", "session", s.id, "seq", s.seq, "label", sample.Label, "confidence", sample.Confidence)
	for _, fn := range subscribers {
		fn(sample)
	}
}

func (c *Controller) finish(ctx context.Context, s *session) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	decision := ResolveWithThreshold(&s.acc, s.opts.Threshold)
	decision.SessionID = s.id
	decision.StartedAt = s.startedAt
	decision.EndedAt = c.clk.Now()
	decision.Frame = s.lastFrame
	subscribers := append([]func(Decision){}, c.onDecision...)
	c.mu.Unlock()

	c.logger.CInfow(ctx, "scan finished",
		"session", s.id,
		"label", decision.Label,
		"confidence", decision.ConfidenceString,
		"samples", decision.Samples,
	)
	for _, fn := range subscribers {
		fn(decision)
	}
}

// abandon ends a session whose context went away without a Decision.
func (c *Controller) abandon(ctx context.Context, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
		c.logger.CInfow(ctx, "scan aborted", "session", s.id, "samples", s.acc.Samples())
	}
}

// Stop ends the running session without a Decision. Stopping an idle controller does nothing.
// Stop does not wait for an in-flight classification; its result is discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	samples := s.acc.Samples()
	c.mu.Unlock()

	s.cancel()
	c.logger.Infow("scan stopped", "session", s.id, "discarded_samples", samples)
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Status returns a snapshot of the running session. When idle, SessionID names the last session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Status{SessionID: c.lastSession}
	}
	return Status{
		Active:    true,
		SessionID: c.session.id,
		StartedAt: c.session.startedAt,
		Samples:   c.session.acc.Samples(),
	}
}

// Close stops any running session and waits for its goroutine to return. Start fails afterwards.
// Close must not be called from a subscriber.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
	c.workers.Stop()
	return nil
}
