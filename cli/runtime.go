package cli

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/signscan/signscan/config"
	"github.com/signscan/signscan/history"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/ml"
	"github.com/signscan/signscan/notify"
	"github.com/signscan/signscan/services/mlmodel/reference"
	"github.com/signscan/signscan/services/vision"
	"github.com/signscan/signscan/vision/classification"
)

// runtime is everything a command needs, built from the config.
type runtime struct {
	cfg        *config.Config
	logger     logging.Logger
	classifier classification.Classifier
	notifier   *notify.Notifier
	history    *history.History
	closers    []func() error
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String(flagConfig); path != "" {
		var err error
		cfg, err = config.Read(c.Context, path, logging.NewBlankLogger("config"))
		if err != nil {
			return nil, err
		}
		if c.IsSet(flagReferenceDir) {
			cfg.Model.ReferenceDir = c.Path(flagReferenceDir)
		}
	} else {
		cfg = &config.Config{Model: config.ModelConfig{ReferenceDir: c.Path(flagReferenceDir)}}
		if err := cfg.Ensure(); err != nil {
			return nil, err
		}
	}
	if c.Bool(flagDebug) {
		cfg.Debug = true
	}
	return cfg, nil
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}

	logger := logging.NewBlankLogger("signscan")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if cfg.Log.File != "" {
		fileAppender := logging.NewFileAppender(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		logger.AddAppender(fileAppender)
		rt.closers = append(rt.closers, fileAppender.Close)
	}
	logger.SetLevel(cfg.EffectiveLevel())
	if err := logging.UpdateLoggerLevels(cfg.Log.Loggers); err != nil {
		logger.Warnw("ignoring invalid logger levels", "error", err)
	}
	rt.logger = logger

	var labels []string
	if cfg.Model.LabelsPath != "" {
		if labels, err = ml.ReadLabels(cfg.Model.LabelsPath); err != nil {
			return nil, multierr.Combine(err, rt.Close())
		}
	}
	templates, err := cfg.Model.Templates(labels)
	if err != nil {
		return nil, multierr.Combine(err, rt.Close())
	}
	model, err := reference.NewModelFromFiles(templates, cfg.Model.EffectiveInputSize(), logger.Sublogger("model"))
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot load reference images from %q", cfg.Model.ReferenceDir), rt.Close())
	}
	classifier, err := vision.NewClassifier(c.Context, model, logger.Sublogger("vision"))
	if err != nil {
		return nil, multierr.Combine(err, rt.Close())
	}
	rt.classifier = classification.WithPostprocessors(classifier, cfg.Model.Postprocessors()...)

	primary, fallback, err := buildSinks(cfg.Notifications, logger.Sublogger("notify"))
	if err != nil {
		return nil, multierr.Combine(err, rt.Close())
	}
	// A terminal has no permission prompt, so permission is always granted.
	rt.notifier = notify.NewNotifier(
		cfg.Notifications.Enabled,
		notify.StaticPermission(notify.PermissionGranted),
		primary, fallback,
		logger.Sublogger("notify"),
	)
	rt.history = history.New(cfg.History.EffectiveCapacity(), clock.New())
	return rt, nil
}

// buildSinks returns the primary and fallback notification sinks. Without configured sinks
// notifications go to the log.
func buildSinks(cfg config.NotificationsConfig, logger logging.Logger) (notify.Sink, notify.Sink, error) {
	if len(cfg.Sinks) == 0 {
		return notify.LogSink{Logger: logger}, nil, nil
	}
	sinks := make([]notify.Sink, 2)
	for idx, sinkCfg := range cfg.Sinks {
		switch sinkCfg.Type {
		case config.SinkTypeLog:
			sinks[idx] = notify.LogSink{Logger: logger}
		case config.SinkTypeFile:
			attrs, err := sinkCfg.FileAttributes()
			if err != nil {
				return nil, nil, err
			}
			fileSink, err := notify.NewFileSink(attrs.Path)
			if err != nil {
				return nil, nil, err
			}
			sinks[idx] = fileSink
		default:
			return nil, nil, errors.Errorf("unknown sink type %q", sinkCfg.Type)
		}
	}
	return sinks[0], sinks[1], nil
}

func (rt *runtime) Close() error {
	var err error
	for _, closer := range rt.closers {
		err = multierr.Combine(err, closer())
	}
	return err
}
