package cli

import (
	"context"
	"image"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/signscan/signscan/components/camera"
	"github.com/signscan/signscan/config"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/scan"
	"github.com/signscan/signscan/services/signscan"
	"github.com/signscan/signscan/signs"
	"github.com/signscan/signscan/web"
	"github.com/signscan/signscan/web/assetcache"
)

// cameraReadyTimeout bounds how long a replayed camera may take to show its first frame.
const cameraReadyTimeout = 5 * time.Second

// ClassifyAction classifies each image given as an argument.
func ClassifyAction(c *cli.Context) (err error) {
	if c.NArg() == 0 {
		return errors.New("classify needs at least one image")
	}
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	scanner, err := signscan.New(rt.scannerConfig(), signscan.Deps{
		Classifier: rt.classifier,
		Notifier:   rt.notifier,
		History:    rt.history,
	}, rt.logger.Sublogger("scanner"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, scanner.Close(c.Context))
	}()

	top := c.Int(flagTop)
	results := newTable(table.Row{"Image", "Label", "Confidence", "Confident"})
	for _, path := range c.Args().Slice() {
		img, err := rimage.NewImageFromFile(path)
		if err != nil {
			warningf(c.App.ErrWriter, "skipping %s: %v", path, err)
			continue
		}
		decision, err := scanner.DetectImage(c.Context, img)
		if err != nil {
			return errors.Wrapf(err, "cannot classify %s", path)
		}
		results.AppendRow(table.Row{filepath.Base(path), decision.Label, decision.ConfidenceString, decision.IsConfident})
		if top > 1 {
			if err := appendRunnersUp(c.Context, results, rt, img, top); err != nil {
				return err
			}
		}
	}
	printf(c.App.Writer, "%s", results.Render())

	if rt.history.Len() > 1 {
		counts := rt.history.Counts()
		summary := newTable(table.Row{"Label", "Images"})
		for _, label := range lo.Keys(counts) {
			summary.AppendRow(table.Row{label, counts[label]})
		}
		summary.SortBy([]table.SortBy{{Name: "Images", Mode: table.DscNumeric}, {Name: "Label", Mode: table.Asc}})
		printf(c.App.Writer, "%s", summary.Render())
	}
	return nil
}

// appendRunnersUp adds the labels ranked 2 to top for one image.
func appendRunnersUp(ctx context.Context, results table.Writer, rt *runtime, img image.Image, top int) error {
	classifications, err := rt.classifier(ctx, rimage.CaptureFrame(img, rt.cfg.Model.EffectiveInputSize(), 0))
	if err != nil {
		return err
	}
	for _, cls := range lo.Drop(classifications.TopN(top), 1) {
		results.AppendRow(table.Row{"", cls.Label(), scan.FormatConfidence(cls.Score()), ""})
	}
	return nil
}

func (rt *runtime) scannerConfig() signscan.Config {
	return signscan.Config{Scan: rt.cfg.Scan.Options(), KeepCameraAfterScan: rt.cfg.Scan.KeepCameraAfterScan}
}

// newReplayCamera builds a camera replaying frames, or returns nil when there are none.
func newReplayCamera(frames []string, fps float64, logger logging.Logger) (*camera.Stream, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	if fps <= 0 {
		fps = camera.DefaultReplayFPS
	}
	producer, err := camera.NewReplayProducer(frames, fps, clock.New())
	if err != nil {
		return nil, err
	}
	return camera.NewStream(producer, logger), nil
}

// waitForCamera polls until the camera has a frame.
func waitForCamera(ctx context.Context, stream *camera.Stream) error {
	ctx, cancel := context.WithTimeout(ctx, cameraReadyTimeout)
	defer cancel()
	for !camera.Ready(stream) {
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return errors.Wrap(ctx.Err(), "camera did not produce a frame")
		}
	}
	return nil
}

// ScanAction replays frames as a live camera and runs one timed scan over them.
func ScanAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()

	frames := c.Args().Slice()
	if len(frames) == 0 {
		frames = rt.cfg.Camera.Frames
	}
	if len(frames) == 0 {
		return errors.New("scan needs frames, as arguments or camera.frames in the config")
	}
	fps := rt.cfg.Camera.FPS
	if c.IsSet(flagFPS) {
		fps = c.Float64(flagFPS)
	}
	stream, err := newReplayCamera(frames, fps, rt.logger.Sublogger("camera"))
	if err != nil {
		return err
	}

	scanCfg := rt.scannerConfig()
	if c.IsSet(flagPeriodMs) {
		scanCfg.Scan.Period = time.Duration(c.Int(flagPeriodMs)) * time.Millisecond
	}
	if c.IsSet(flagDurationMs) {
		scanCfg.Scan.Duration = time.Duration(c.Int(flagDurationMs)) * time.Millisecond
	}
	scanner, err := signscan.New(scanCfg, signscan.Deps{
		Camera:     stream,
		Classifier: rt.classifier,
		Notifier:   rt.notifier,
		History:    rt.history,
	}, rt.logger.Sublogger("scanner"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, scanner.Close(context.Background()))
	}()

	decisions := make(chan scan.Decision, 1)
	scanner.Subscribe(func(d scan.Decision) {
		decisions <- d
	})
	scanner.SubscribeProgress(func(s scan.Sample) {
		rt.logger.Debugw("sample", "seq", s.Seq, "label", s.Label, "confidence", scan.FormatConfidence(s.Confidence))
	})

	scanner.StartCamera(c.Context)
	if err := waitForCamera(c.Context, stream); err != nil {
		return err
	}
	if err := scanner.StartScan(c.Context); err != nil {
		return err
	}
	infof(c.App.Writer, "scanning %d frame(s)", len(frames))

	select {
	case decision := <-decisions:
		printDecision(c.App.Writer, decision)
		if decision.IsConfident {
			md := signs.MetadataFor(decision.Label)
			printf(c.App.Writer, "%s\n%s", md.Title, md.Body)
		} else {
			printf(c.App.Writer, "%s", signs.DefaultMetadata.Body)
		}
		return nil
	case <-c.Context.Done():
		return c.Context.Err()
	}
}

// SignsAction prints the sign catalogue.
func SignsAction(c *cli.Context) error {
	catalogue := newTable(table.Row{"#", "Label", "Title", "Reference"})
	for _, category := range signs.All() {
		md := category.Metadata()
		catalogue.AppendRow(table.Row{category.ClassID(), category.String(), md.Title, md.ImageRef})
	}
	printf(c.App.Writer, "%s", catalogue.Render())
	return nil
}

// ServeAction serves the web app until the context ends.
func ServeAction(c *cli.Context) (err error) {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rt.Close())
	}()
	cfg := rt.cfg

	stream, err := newReplayCamera(cfg.Camera.Frames, cfg.Camera.FPS, rt.logger.Sublogger("camera"))
	if err != nil {
		return err
	}
	if stream == nil {
		warningf(c.App.ErrWriter, "no camera frames configured, only uploads can be classified")
	}
	scanner, err := signscan.New(rt.scannerConfig(), signscan.Deps{
		Camera:     stream,
		Classifier: rt.classifier,
		Notifier:   rt.notifier,
		History:    rt.history,
	}, rt.logger.Sublogger("scanner"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, scanner.Close(context.Background()))
	}()

	assets, err := installAssets(c.Context, cfg.Assets, rt.logger.Sublogger("assets"))
	if err != nil {
		warningf(c.App.ErrWriter, "serving without an offline cache: %v", err)
	}

	opts := cfg.Web.Options(cfg.Assets)
	if c.IsSet(flagBindAddress) {
		opts.BindAddress = c.String(flagBindAddress)
	}
	server, err := web.NewServer(opts, web.Deps{
		Scanner:  scanner,
		Notifier: rt.notifier,
		History:  rt.history,
		Assets:   assets,
	}, rt.logger.Sublogger("web"))
	if err != nil {
		return err
	}
	if err := server.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, server.Close(context.Background()))
	}()
	infof(c.App.Writer, "serving on http://%s", server.Addr())

	var changes <-chan *config.Config
	if cfg.ConfigFilePath != "" {
		watcher, watchErr := config.NewWatcher(c.Context, cfg.ConfigFilePath, rt.logger.Sublogger("config"))
		if watchErr != nil {
			warningf(c.App.ErrWriter, "config changes will not be picked up: %v", watchErr)
		} else {
			defer func() {
				err = multierr.Combine(err, watcher.Close())
			}()
			changes = watcher.Config()
		}
	}

	for {
		select {
		case <-c.Context.Done():
			return nil
		case newCfg := <-changes:
			rt.applyConfigChange(c.Context, newCfg)
		}
	}
}

// installAssets caches the app's assets and drops older cache versions. It returns nil when no
// asset root is configured.
func installAssets(ctx context.Context, cfg config.AssetsConfig, logger logging.Logger) (*assetcache.Worker, error) {
	if cfg.Root == "" {
		return nil, nil
	}
	worker, err := assetcache.NewWorker(
		assetcache.NewStore(),
		cfg.EffectiveCacheName(),
		cfg.EffectiveFiles(),
		assetcache.DirFetcher{Root: cfg.Root},
		logger,
	)
	if err != nil {
		return nil, err
	}
	if err := worker.Install(ctx); err != nil {
		return nil, err
	}
	worker.Activate()
	return worker, nil
}

// applyConfigChange applies the parts of a new config that can change while serving.
func (rt *runtime) applyConfigChange(ctx context.Context, newCfg *config.Config) {
	rt.logger.SetLevel(newCfg.EffectiveLevel())
	if err := logging.UpdateLoggerLevels(newCfg.Log.Loggers); err != nil {
		rt.logger.Warnw("ignoring invalid logger levels", "error", err)
	}
	if newCfg.Notifications.Enabled != rt.notifier.Enabled() {
		if err := rt.notifier.SetEnabled(ctx, newCfg.Notifications.Enabled); err != nil {
			rt.logger.Warnw("cannot change notifications", "error", err)
		}
	}
	rt.cfg.Log = newCfg.Log
	rt.cfg.Notifications.Enabled = newCfg.Notifications.Enabled
	rt.logger.Infow("config reloaded", "path", newCfg.ConfigFilePath)
}
