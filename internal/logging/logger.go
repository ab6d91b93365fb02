// Package logging provides config-driven categorized file-based logging for
// vcycle. Each subsystem writes to its own file under the configured logs
// directory, backed by zap cores. When debug_mode is off only info and above
// is written; a category can be disabled entirely via the config map.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and composition
	CategoryObs        Category = "obs"        // Observability platform client
	CategoryCollector  Category = "collector"  // Quality metric collection
	CategoryAnalyzer   Category = "analyzer"   // Regression analysis
	CategoryExperiment Category = "experiment" // A/B experiments
	CategoryLearner    Category = "learner"    // Feedback/pattern learning
	CategorySelector   Category = "selector"   // Strategy selection
	CategoryForecast   Category = "forecast"   // Quality forecasting
	CategoryCycle      Category = "cycle"      // Orchestrator state machine
	CategoryAPI        Category = "api"        // HTTP surface
	CategoryStore      Category = "store"      // SQLite persistence
	CategoryEmbedding  Category = "embedding"  // Embedding engine
)

// Settings mirrors config.LoggingConfig to avoid a circular import.
type Settings struct {
	DebugMode  bool
	Directory  string
	Level      string
	Categories map[string]bool
}

// Logger writes to one category file through a zap sugared logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	nop      bool
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*Logger)
	settings Settings
	ready    bool
)

// Initialize sets up the logging directory and retains settings.
// Safe to call more than once; later calls replace the settings and drop
// cached loggers so new files pick up the new directory.
func Initialize(s Settings) error {
	if s.Directory == "" {
		return fmt.Errorf("logging directory required")
	}
	if err := os.MkdirAll(s.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	loggers = make(map[Category]*Logger)
	settings = s
	ready = true
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return settings.DebugMode
}

func categoryEnabled(c Category) bool {
	if settings.Categories == nil {
		return true
	}
	enabled, found := settings.Categories[string(c)]
	if !found {
		return true
	}
	return enabled
}

// Get returns the logger for a category, creating it on first use.
// Before Initialize, or for a disabled category, a no-op logger is returned
// so call sites never need nil checks.
func Get(c Category) *Logger {
	mu.RLock()
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}

	if !ready || !categoryEnabled(c) {
		l := &Logger{category: c, nop: true}
		loggers[c] = l
		return l
	}

	path := filepath.Join(settings.Directory, string(c)+".log")
	sink, _, err := zap.Open(path)
	if err != nil {
		l := &Logger{category: c, nop: true}
		loggers[c] = l
		return l
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"

	level := zapcore.InfoLevel
	if settings.DebugMode {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	logger := zap.New(core).Named(string(c))

	l := &Logger{category: c, sugar: logger.Sugar()}
	loggers[c] = l
	return l
}

// Debug logs at debug level (only written when debug_mode is on).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.nop {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.nop {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.nop {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.nop {
		return
	}
	l.sugar.Errorf(format, args...)
}

// CloseAll syncs and drops all open loggers.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
	}
	loggers = make(map[Category]*Logger)
	ready = false
}

// Convenience wrappers, one pair per category. Info-level for the steady
// narrative, Debug for the chatty detail.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func Obs(format string, args ...interface{})      { Get(CategoryObs).Info(format, args...) }
func ObsDebug(format string, args ...interface{}) { Get(CategoryObs).Debug(format, args...) }

func Collector(format string, args ...interface{}) { Get(CategoryCollector).Info(format, args...) }
func CollectorDebug(format string, args ...interface{}) {
	Get(CategoryCollector).Debug(format, args...)
}

func Analyzer(format string, args ...interface{}) { Get(CategoryAnalyzer).Info(format, args...) }
func AnalyzerDebug(format string, args ...interface{}) {
	Get(CategoryAnalyzer).Debug(format, args...)
}

func Experiment(format string, args ...interface{}) { Get(CategoryExperiment).Info(format, args...) }
func ExperimentDebug(format string, args ...interface{}) {
	Get(CategoryExperiment).Debug(format, args...)
}

func Learner(format string, args ...interface{})      { Get(CategoryLearner).Info(format, args...) }
func LearnerDebug(format string, args ...interface{}) { Get(CategoryLearner).Debug(format, args...) }

func Selector(format string, args ...interface{})      { Get(CategorySelector).Info(format, args...) }
func SelectorDebug(format string, args ...interface{}) { Get(CategorySelector).Debug(format, args...) }

func Forecast(format string, args ...interface{})      { Get(CategoryForecast).Info(format, args...) }
func ForecastDebug(format string, args ...interface{}) { Get(CategoryForecast).Debug(format, args...) }

func Cycle(format string, args ...interface{})      { Get(CategoryCycle).Info(format, args...) }
func CycleDebug(format string, args ...interface{}) { Get(CategoryCycle).Debug(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Timer measures an operation's duration and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time. Slow operations (>1s) are logged at info so
// they show up without debug mode.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Info("%s took %s", t.op, elapsed)
	} else {
		l.Debug("%s took %s", t.op, elapsed)
	}
}
