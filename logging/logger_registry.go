package logging

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var loggerRegistry = newRegistry()

// registry tracks named subloggers so per-name levels from the config can be applied to them.
type registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *registry {
	return &registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

// updateLoggerLevelWithCfg applies the last matching pattern to the logger called `name`.
func (lr *registry) updateLoggerLevelWithCfg(name string) error {
	lr.mu.RLock()
	defer lr.mu.RUnlock()

	logger, ok := lr.loggers[name]
	if !ok {
		return errors.Errorf("logger named %s not recognized", name)
	}
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		if !r.MatchString(name) {
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	return nil
}

func (lr *registry) registeredNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateLoggerLevels stores the pattern config and reapplies it to every registered sublogger.
// Invalid patterns are reported and skipped; the remaining patterns still apply.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig) error {
	var errs error
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errs = multierr.Append(errs, errors.Errorf("invalid logger pattern %q", lpc.Pattern))
			continue
		}
		if _, err := LevelFromString(lpc.Level); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		valid = append(valid, lpc)
	}

	loggerRegistry.mu.Lock()
	loggerRegistry.logConfig = valid
	loggerRegistry.mu.Unlock()

	for _, name := range loggerRegistry.registeredNames() {
		errs = multierr.Append(errs, loggerRegistry.updateLoggerLevelWithCfg(name))
	}
	return errs
}
