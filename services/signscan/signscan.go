// Package signscan is the scanner service: it owns the camera stream, runs timed scans and
// single-image detections, and fans decisions out to notifications, history and subscribers.
package signscan

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/signscan/signscan/components/camera"
	"github.com/signscan/signscan/history"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/notify"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/scan"
	"github.com/signscan/signscan/vision/classification"
)

var (
	// ErrCameraNotRunning is returned when a scan is requested before the camera is started.
	ErrCameraNotRunning = errors.New("please start the camera first")
	// ErrScanInProgress is returned when an upload is classified while a scan is running.
	ErrScanInProgress = errors.New("a scan is in progress")
)

// Config holds what the scanner needs besides its collaborators.
type Config struct {
	Scan scan.Options
	// KeepCameraAfterScan leaves the camera streaming after a completed scan.
	KeepCameraAfterScan bool
}

// Deps are the scanner's collaborators. Notifier and History may be nil. Without a Camera the
// scanner only classifies uploaded images.
type Deps struct {
	Camera     *camera.Stream
	Classifier classification.Classifier
	Controller *scan.Controller
	Notifier   *notify.Notifier
	History    *history.History
}

// Scanner coordinates the camera, the scan controller and the decision consumers.
type Scanner struct {
	cfg    Config
	deps   Deps
	logger logging.Logger

	mu          sync.Mutex
	subscribers []func(scan.Decision)
	progress    []func(scan.Sample)
}

// New wires a scanner to its collaborators.
func New(cfg Config, deps Deps, logger logging.Logger) (*Scanner, error) {
	if deps.Classifier == nil {
		return nil, errors.New("scanner needs a classifier")
	}
	if deps.Controller == nil {
		deps.Controller = scan.NewController(logger.Sublogger("scan"))
	}
	s := &Scanner{cfg: cfg, deps: deps, logger: logger}
	deps.Controller.OnDecision(s.handleScanDecision)
	deps.Controller.OnSample(s.handleSample)
	return s, nil
}

// Subscribe registers fn to receive every decision, from scans and uploads alike.
func (s *Scanner) Subscribe(fn func(scan.Decision)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// SubscribeProgress registers fn to receive every sample of a running scan.
func (s *Scanner) SubscribeProgress(fn func(scan.Sample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, fn)
}

// StartCamera starts the camera stream. Starting a running camera does nothing.
func (s *Scanner) StartCamera(ctx context.Context) {
	if s.deps.Camera == nil {
		s.logger.CWarnw(ctx, "no camera configured")
		return
	}
	if s.deps.Camera.Streaming() {
		return
	}
	s.deps.Camera.Start(ctx)
	s.logger.CInfow(ctx, "camera started")
}

// StopCamera stops the camera. A running scan is stopped too, without a decision.
func (s *Scanner) StopCamera() {
	s.deps.Controller.Stop()
	if !s.CameraRunning() {
		return
	}
	s.deps.Camera.Stop()
	s.logger.Info("camera stopped")
}

// CameraRunning reports whether the camera is streaming.
func (s *Scanner) CameraRunning() bool {
	return s.deps.Camera != nil && s.deps.Camera.Streaming()
}

// StartScan starts a timed scan of the camera stream.
func (s *Scanner) StartScan(ctx context.Context) error {
	if !s.CameraRunning() {
		return ErrCameraNotRunning
	}
	return s.deps.Controller.Start(ctx, s.deps.Camera, s.deps.Classifier, s.cfg.Scan)
}

// StopScan abandons a running scan.
func (s *Scanner) StopScan() {
	s.deps.Controller.Stop()
}

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool {
	return s.deps.Controller.Active()
}

// DetectImage classifies one uploaded image. The top label is reported as the model gave it,
// only IsConfident reflects the threshold.
func (s *Scanner) DetectImage(ctx context.Context, img image.Image) (scan.Decision, error) {
	if img == nil {
		return scan.Decision{}, errors.New("no image to detect")
	}
	if s.deps.Controller.Active() {
		return scan.Decision{}, ErrScanInProgress
	}

	captured := rimage.CaptureFrame(img, s.cfg.Scan.InputSize, 0)
	classifications, err := s.deps.Classifier(ctx, captured)
	if err != nil {
		return scan.Decision{}, errors.Wrap(err, "cannot classify image")
	}
	top, ok := classifications.Top()
	if !ok {
		return scan.Decision{}, errors.New("classifier returned nothing")
	}
	s.logger.CDebugw(ctx, "upload classified", "candidates", len(classifications), "top", top.Label())

	threshold := s.cfg.Scan.Threshold
	if threshold == 0 {
		threshold = scan.ConfidenceThreshold
	}
	decision := scan.Decision{
		Label:            top.Label(),
		Confidence:       top.Score(),
		ConfidenceString: scan.FormatConfidence(top.Score()),
		IsConfident:      top.Score() >= threshold,
		Samples:          1,
		Frame:            img,
	}
	s.logger.CInfow(ctx, "image detected", "label", decision.Label, "confidence", decision.ConfidenceString)
	s.publish(ctx, decision, history.OriginUpload)
	return decision, nil
}

func (s *Scanner) handleSample(sample scan.Sample) {
	s.mu.Lock()
	progress := append([]func(scan.Sample){}, s.progress...)
	s.mu.Unlock()
	for _, fn := range progress {
		fn(sample)
	}
}

func (s *Scanner) handleScanDecision(decision scan.Decision) {
	if !s.cfg.KeepCameraAfterScan {
		s.StopCamera()
	}
	s.publish(context.Background(), decision, history.OriginScan)
}

func (s *Scanner) publish(ctx context.Context, decision scan.Decision, origin history.Origin) {
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyDecision(ctx, decision); err != nil {
			s.logger.CWarnw(ctx, "cannot send safety notification", "label", decision.Label, "error", err)
		}
	}
	if s.deps.History != nil {
		s.deps.History.Add(decision, origin)
	}

	s.mu.Lock()
	subscribers := append([]func(scan.Decision){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subscribers {
		fn(decision)
	}
}

// Close stops scanning and the camera.
func (s *Scanner) Close(ctx context.Context) error {
	err := s.deps.Controller.Close()
	s.StopCamera()
	return err
}
