package notify

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// FileSink appends each notification to a file as one JSON object per line.
type FileSink struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileSink returns a sink appending to path. The file is created on first delivery.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file sink needs a path")
	}
	return &FileSink{path: path, now: time.Now}, nil
}

type fileRecord struct {
	Time  time.Time `json:"time"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Image string    `json:"image,omitempty"`
	Tag   string    `json:"tag"`
}

// Deliver appends the notification.
func (s *FileSink) Deliver(ctx context.Context, note Notification) (err error) {
	line, err := json.Marshal(fileRecord{
		Time:  s.now(),
		Title: note.Title,
		Body:  note.Body,
		Image: note.Image,
		Tag:   note.Tag,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	//nolint:gosec
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "cannot open notification file %q", s.path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = f.Write(append(line, '\n'))
	return err
}
