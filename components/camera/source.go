// Package camera defines the frame sources a scan samples from: live streams fed by a
// FrameProducer and static images from uploads.
package camera

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// ErrNotStreaming is returned by Read when a source has no frame to hand out.
var ErrNotStreaming = errors.New("camera is not streaming")

// SourceKind tells a capture how to frame an image before classification.
type SourceKind int

const (
	// LiveStream frames are center-cropped to the aiming guide before scaling.
	LiveStream SourceKind = iota
	// StaticImage frames are scaled whole.
	StaticImage
)

func (k SourceKind) String() string {
	switch k {
	case LiveStream:
		return "live"
	case StaticImage:
		return "static"
	default:
		return "unknown"
	}
}

// A Source hands out the current frame of a camera or uploaded image.
type Source interface {
	// Read returns the current frame.
	Read(ctx context.Context) (image.Image, error)
	// Dimensions returns the size of the current frame, or the zero point when there is none yet.
	Dimensions() image.Point
	// Streaming reports whether the source is able to produce frames.
	Streaming() bool
	// Kind reports how frames from this source should be captured.
	Kind() SourceKind
}

// Ready reports whether a source is streaming and has a frame with non-zero dimensions.
func Ready(src Source) bool {
	if src == nil || !src.Streaming() {
		return false
	}
	dims := src.Dimensions()
	return dims.X > 0 && dims.Y > 0
}
