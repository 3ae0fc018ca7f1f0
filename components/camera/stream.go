package camera

import (
	"context"
	"image"
	"sync"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/utils"
)

// A FrameProducer pushes frames to emit until ctx is done. Returning ends the stream.
type FrameProducer interface {
	Produce(ctx context.Context, emit func(image.Image)) error
}

// Stream is a live Source fed by a FrameProducer. It reports zero dimensions until the first
// frame arrives and drops its frame when stopped.
type Stream struct {
	producer FrameProducer
	logger   logging.Logger

	mu        sync.Mutex
	workers   utils.StoppableWorkers
	streaming bool
	frame     image.Image
}

// NewStream returns a stopped stream around producer.
func NewStream(producer FrameProducer, logger logging.Logger) *Stream {
	return &Stream{producer: producer, logger: logger}
}

// Start begins streaming. Starting a running stream is a no-op.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return
	}
	s.streaming = true
	s.frame = nil

	// The producer outlives the caller's request but still honors its values and cancellation.
	s.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		err := s.producer.Produce(ctx, s.emit)
		if err != nil && ctx.Err() == nil {
			s.logger.CWarnw(ctx, "frame producer stopped", "error", err)
		}
	})
}

func (s *Stream) emit(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return
	}
	s.frame = img
}

// Stop ends streaming and waits for the producer to return. Stopping a stopped stream is a no-op.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return
	}
	s.streaming = false
	s.frame = nil
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()

	workers.Stop()
}

// Read returns the most recent frame.
func (s *Stream) Read(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming || s.frame == nil {
		return nil, ErrNotStreaming
	}
	return s.frame, nil
}

// Dimensions returns the size of the most recent frame.
func (s *Stream) Dimensions() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return image.Point{}
	}
	return s.frame.Bounds().Size()
}

// Streaming reports whether Start has been called without a matching Stop.
func (s *Stream) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Kind is always LiveStream.
func (s *Stream) Kind() SourceKind {
	return LiveStream
}
