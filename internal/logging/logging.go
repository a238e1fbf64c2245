package logging

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines logger configuration.
type Config struct {
	Level       string   `yaml:"level" split_words:"true"` // "debug", "info", "warn", "error"
	Development bool     `yaml:"development" split_words:"true"`
	OutputPaths []string `yaml:"outputPaths" split_words:"true"`
}

// DefaultConfig returns production logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		OutputPaths: []string{"stderr"},
	}
}

var (
	disabled atomic.Bool
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base     atomic.Pointer[zap.Logger]
)

func init() {
	base.Store(zap.NewNop())
}

// Setup builds the process logger. It can be called again to swap encoders.
func Setup(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	old := base.Swap(l)
	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// New creates a zap logger sharing the process-wide atomic level.
func New(cfg Config) (*zap.Logger, error) {
	if err := SetLevel(cfg.Level); err != nil {
		return nil, err
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		Encoding:          encodingFormat(cfg.Development),
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	return zapCfg.Build(zap.AddCallerSkip(1))
}

// ParseLevel parses a level name; empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		name = "info"
	}
	var l zapcore.Level
	err := l.UnmarshalText([]byte(strings.ToLower(name)))
	return l, err
}

// SetLevel changes the level of every logger handed out by this package.
func SetLevel(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// Level reports the current level name.
func Level() string {
	return level.Level().String()
}

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// L returns the process logger, or a no-op logger while disabled.
func L() *zap.Logger {
	if disabled.Load() {
		return zap.NewNop()
	}
	return base.Load()
}

// Named returns a component logger.
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// Sync flushes buffered entries.
func Sync() {
	_ = base.Load().Sync()
}

// Info logs an info message
func Info(v ...any) {
	L().Sugar().Info(v...)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	L().Sugar().Infof(format, v...)
}

// Error logs an error message
func Error(v ...any) {
	L().Sugar().Error(v...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	L().Sugar().Errorf(format, v...)
}

// Warn logs a warning message
func Warn(v ...any) {
	L().Sugar().Warn(v...)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	L().Sugar().Warnf(format, v...)
}

// Debug logs a debug message
func Debug(v ...any) {
	L().Sugar().Debug(v...)
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	L().Sugar().Debugf(format, v...)
}

func encodingFormat(development bool) string {
	if development {
		return "console"
	}
	return "json"
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg
}
