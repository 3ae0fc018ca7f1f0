package camera

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/signscan/signscan/rimage"
)

// DefaultReplayFPS is the frame rate used when a replay is created with a non-positive rate.
const DefaultReplayFPS = 10

type replayProducer struct {
	frames []image.Image
	period time.Duration
	clk    clock.Clock
}

// NewReplayProducer loads the image files at paths and replays them in a loop at fps frames per
// second, timed by clk.
func NewReplayProducer(paths []string, fps float64, clk clock.Clock) (FrameProducer, error) {
	if len(paths) == 0 {
		return nil, errors.New("replay needs at least one frame")
	}
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := rimage.NewImageFromFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot load replay frame %s", p)
		}
		frames = append(frames, img)
	}
	return newReplayProducer(frames, fps, clk), nil
}

func newReplayProducer(frames []image.Image, fps float64, clk clock.Clock) *replayProducer {
	if fps <= 0 {
		fps = DefaultReplayFPS
	}
	if clk == nil {
		clk = clock.New()
	}
	return &replayProducer{
		frames: frames,
		period: time.Duration(float64(time.Second) / fps),
		clk:    clk,
	}
}

// Produce emits the first frame right away and every following frame on each tick.
func (p *replayProducer) Produce(ctx context.Context, emit func(image.Image)) error {
	ticker := p.clk.Ticker(p.period)
	defer ticker.Stop()

	next := 0
	for {
		emit(p.frames[next])
		next = (next + 1) % len(p.frames)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
