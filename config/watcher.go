package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/utils"
)

// A Watcher is responsible for delivering a new config whenever the file it was read from changes.
type Watcher interface {
	Config() <-chan *Config
	Close() error
}

type fsConfigWatcher struct {
	fsWatcher *fsnotify.Watcher
	configCh  chan *Config
	workers   utils.StoppableWorkers
}

// NewWatcher watches the file at path. Invalid intermediate versions are logged and skipped.
func NewWatcher(ctx context.Context, path string, logger logging.Logger) (Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace files, so watch the directory and filter on the name.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		return nil, errors.Wrap(multierr.Combine(err, fsWatcher.Close()), "cannot watch config directory")
	}
	w := &fsConfigWatcher{
		fsWatcher: fsWatcher,
		configCh:  make(chan *Config),
	}
	target := filepath.Clean(path)
	w.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("config watcher error", "error", err)
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := Read(ctx, path, logger)
				if err != nil {
					logger.Warnw("ignoring invalid config change", "path", path, "error", err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case w.configCh <- cfg:
				}
			}
		}
	})
	return w, nil
}

func (w *fsConfigWatcher) Config() <-chan *Config {
	return w.configCh
}

func (w *fsConfigWatcher) Close() error {
	w.workers.Stop()
	return w.fsWatcher.Close()
}
