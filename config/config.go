// Package config defines the signscan configuration file and how it is read and validated.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/signscan/signscan/history"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/scan"
	"github.com/signscan/signscan/services/mlmodel/reference"
	"github.com/signscan/signscan/signs"
	"github.com/signscan/signscan/utils"
	"github.com/signscan/signscan/vision/classification"
	"github.com/signscan/signscan/web"
	"github.com/signscan/signscan/web/assetcache"
)

// Config is the whole signscan configuration.
type Config struct {
	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`

	Scan          ScanConfig          `json:"scan"`
	Model         ModelConfig         `json:"model"`
	Camera        CameraConfig        `json:"camera"`
	Notifications NotificationsConfig `json:"notifications"`
	History       HistoryConfig       `json:"history"`
	Assets        AssetsConfig        `json:"assets"`
	Web           WebConfig           `json:"web"`
	Log           LogConfig           `json:"log"`
	Debug         bool                `json:"debug,omitempty"`
}

// Ensure validates every section in turn, naming the first invalid one.
func (c *Config) Ensure() error {
	validators := []struct {
		path string
		v    interface{ Validate(string) error }
	}{
		{"scan", c.Scan},
		{"model", c.Model},
		{"camera", c.Camera},
		{"notifications", c.Notifications},
		{"history", c.History},
		{"assets", c.Assets},
		{"log", c.Log},
	}
	for _, section := range validators {
		if err := section.v.Validate(section.path); err != nil {
			return err
		}
	}
	return nil
}

// ScanConfig configures timed scans. Zero values take the scan package defaults.
type ScanConfig struct {
	PeriodMs            int     `json:"period_ms,omitempty"`
	DurationMs          int     `json:"duration_ms,omitempty"`
	Threshold           float64 `json:"threshold,omitempty"`
	CropFraction        float64 `json:"crop_fraction,omitempty"`
	InputSize           int     `json:"input_size,omitempty"`
	KeepCameraAfterScan bool    `json:"keep_camera_after_scan,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c ScanConfig) Validate(path string) error {
	if _, err := c.Options().WithDefaults(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.CropFraction > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("crop_fraction must be at most 1, got %v", c.CropFraction))
	}
	return nil
}

// Options converts the section into scan options.
func (c ScanConfig) Options() scan.Options {
	return scan.Options{
		Period:       time.Duration(c.PeriodMs) * time.Millisecond,
		Duration:     time.Duration(c.DurationMs) * time.Millisecond,
		Threshold:    c.Threshold,
		InputSize:    c.InputSize,
		CropFraction: c.CropFraction,
	}
}

// ModelConfig locates the reference images the classifier compares frames against.
type ModelConfig struct {
	ReferenceDir string `json:"reference_dir"`
	// LabelsPath optionally restricts and orders the labels, as a labels.json array or one per line.
	LabelsPath string `json:"labels_path,omitempty"`
	InputSize  int    `json:"input_size,omitempty"`
	// MinScore drops candidate labels scoring below it before they are sampled.
	MinScore float64 `json:"min_score,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c ModelConfig) Validate(path string) error {
	if c.ReferenceDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "reference_dir")
	}
	if c.InputSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("input_size cannot be negative, got %d", c.InputSize))
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_score must be within [0, 1], got %v", c.MinScore))
	}
	return nil
}

// Postprocessors are applied to every classifier result: labels outside the sign catalogue are
// dropped, then candidates under MinScore when it is set.
func (c ModelConfig) Postprocessors() []classification.Postprocessor {
	procs := []classification.Postprocessor{classification.NewLabelFilter(signs.Labels())}
	if c.MinScore > 0 {
		procs = append(procs, classification.NewScoreFilter(c.MinScore))
	}
	return procs
}

// Templates pairs each label with its reference image inside ReferenceDir. Labels outside the
// sign catalogue are an error.
func (c ModelConfig) Templates(labels []string) ([]reference.Template, error) {
	if len(labels) == 0 {
		labels = signs.Labels()
	}
	templates := make([]reference.Template, 0, len(labels))
	for _, label := range labels {
		category, err := signs.Parse(label)
		if err != nil {
			return nil, err
		}
		ref := category.Metadata().ImageRef
		if ref == "" {
			continue
		}
		templates = append(templates, reference.Template{
			Label: label,
			Path:  filepath.Join(c.ReferenceDir, filepath.Base(ref)),
		})
	}
	return templates, nil
}

// EffectiveInputSize is the configured input size or the capture default.
func (c ModelConfig) EffectiveInputSize() int {
	if c.InputSize > 0 {
		return c.InputSize
	}
	return rimage.DefaultInputSize
}

// CameraConfig describes the replayed camera feed.
type CameraConfig struct {
	Frames []string `json:"frames,omitempty"`
	FPS    float64  `json:"fps,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c CameraConfig) Validate(path string) error {
	if c.FPS < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("fps cannot be negative, got %v", c.FPS))
	}
	for idx, frame := range c.Frames {
		if frame == "" {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.frames.%d", path, idx), errors.New("empty frame path"))
		}
	}
	return nil
}

// NotificationsConfig configures safety notifications.
type NotificationsConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// Sinks are tried in order: the first is primary, the second the fallback.
	Sinks []SinkConfig `json:"sinks,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c NotificationsConfig) Validate(path string) error {
	if len(c.Sinks) > 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("at most 2 sinks are supported, got %d", len(c.Sinks)))
	}
	for idx, sink := range c.Sinks {
		if err := sink.Validate(fmt.Sprintf("%s.sinks.%d", path, idx)); err != nil {
			return err
		}
	}
	return nil
}

// Sink types.
const (
	SinkTypeLog  = "log"
	SinkTypeFile = "file"
)

// SinkConfig names a notification sink and its free-form attributes.
type SinkConfig struct {
	Type       string       `json:"type"`
	Attributes AttributeMap `json:"attributes,omitempty"`
}

// FileSinkAttributes are the attributes of a file sink.
type FileSinkAttributes struct {
	Path string `json:"path"`
}

// Validate ensures all parts of the config are valid.
func (c SinkConfig) Validate(path string) error {
	switch c.Type {
	case SinkTypeLog:
		return nil
	case SinkTypeFile:
		attrs, err := c.FileAttributes()
		if err != nil {
			return utils.NewConfigValidationError(path, err)
		}
		if attrs.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path+".attributes", "path")
		}
		return nil
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown sink type %q", c.Type))
	}
}

// FileAttributes decodes the attributes of a file sink.
func (c SinkConfig) FileAttributes() (FileSinkAttributes, error) {
	var attrs FileSinkAttributes
	err := c.Attributes.Decode(&attrs)
	return attrs, err
}

// AttributeMap is a free-form set of attributes, decoded into a concrete struct when used.
type AttributeMap map[string]interface{}

// Decode fills target, a pointer to a struct with json tags, from the map.
func (am AttributeMap) Decode(target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(decoder.Decode(map[string]interface{}(am)), "cannot decode attributes")
}

// HistoryConfig sizes the decision history.
type HistoryConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c HistoryConfig) Validate(path string) error {
	if c.Capacity < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("capacity cannot be negative, got %d", c.Capacity))
	}
	return nil
}

// EffectiveCapacity is the configured capacity or the history default.
func (c HistoryConfig) EffectiveCapacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return history.DefaultCapacity
}

// AssetsConfig configures the static app and its offline cache.
type AssetsConfig struct {
	Root      string   `json:"root,omitempty"`
	CacheName string   `json:"cache_name,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c AssetsConfig) Validate(path string) error {
	if len(c.Files) > 0 && c.Root == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "root")
	}
	return nil
}

// EffectiveCacheName is the configured cache name or the current default version.
func (c AssetsConfig) EffectiveCacheName() string {
	if c.CacheName != "" {
		return c.CacheName
	}
	return assetcache.DefaultName
}

// EffectiveFiles is the configured asset list or the default one.
func (c AssetsConfig) EffectiveFiles() []string {
	if len(c.Files) > 0 {
		return c.Files
	}
	return assetcache.DefaultAssets()
}

// WebConfig configures the web server.
type WebConfig struct {
	BindAddress string `json:"bind_address,omitempty"`
}

// Options converts the section into web server options.
func (c WebConfig) Options(assets AssetsConfig) web.Options {
	return web.Options{BindAddress: c.BindAddress, AssetRoot: assets.Root}
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string                        `json:"level,omitempty"`
	File       string                        `json:"file,omitempty"`
	MaxSizeMB  int                           `json:"max_size_mb,omitempty"`
	MaxBackups int                           `json:"max_backups,omitempty"`
	Loggers    []logging.LoggerPatternConfig `json:"loggers,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c LogConfig) Validate(path string) error {
	if c.Level != "" {
		if _, err := logging.LevelFromString(c.Level); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_size_mb and max_backups cannot be negative"))
	}
	for idx, lpc := range c.Loggers {
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			return utils.NewConfigValidationError(fmt.Sprintf("%s.loggers.%d", path, idx), err)
		}
	}
	return nil
}

// EffectiveLevel is the configured level, or debug when debug is set, or info.
func (c *Config) EffectiveLevel() logging.Level {
	if c.Debug {
		return logging.DEBUG
	}
	if level, err := logging.LevelFromString(c.Log.Level); err == nil {
		return level
	}
	return logging.INFO
}
