// Package logger is a thin layer over zap. It owns the process-wide
// logger and the field conventions (request_id, engine, stage) the rest
// of the pipeline logs with.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger embeds a zap.SugaredLogger and remembers the Config it was
// built from so derived loggers keep the same settings.
type Logger struct {
	*zap.SugaredLogger
	config *Config
}

// Config controls how log output is encoded and where it goes.
type Config struct {
	// Level is the minimum severity to emit: debug, info, warn, error.
	Level string

	// Format selects the encoder: "console" or "json".
	Format string

	// OutputPath, when set, appends log output to a file in addition
	// to stdout.
	OutputPath string

	// EnableCaller annotates entries with the call site.
	EnableCaller bool

	// EnableStacktrace attaches stack traces at error level and above.
	EnableStacktrace bool
}

var defaultLogger *Logger

// New builds a Logger from cfg. A nil cfg gets info-level console
// output with stack traces on errors.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{
			Level:            "info",
			Format:           "console",
			EnableCaller:     false,
			EnableStacktrace: true,
		}
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncs []zapcore.WriteSyncer
	writeSyncs = append(writeSyncs, zapcore.AddSync(os.Stdout))

	if cfg.OutputPath != "" {
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputPath, err)
		}
		writeSyncs = append(writeSyncs, zapcore.AddSync(file))
	}

	writer := zapcore.NewMultiWriteSyncer(writeSyncs...)
	core := zapcore.NewCore(encoder, writer, level)

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zapLogger := zap.New(core, opts...)

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		config:        cfg,
	}, nil
}

// Init replaces the process-wide logger. Call it once at startup,
// before anything logs.
func Init(cfg *Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	defaultLogger = logger
	return nil
}

// Get returns the process-wide logger, lazily creating a default one
// so packages can log before Init runs.
func Get() *Logger {
	if defaultLogger == nil {
		logger, _ := New(nil)
		defaultLogger = logger
	}
	return defaultLogger
}

// WithFields returns a child logger with the given key/value pairs
// attached to every entry.
func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.With(fields...),
		config:        l.config,
	}
}

// WithRequestID tags entries with the request being processed.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.WithFields("request_id", requestID)
}

// WithEngine tags entries with the OCR engine doing the work.
func (l *Logger) WithEngine(engineID string) *Logger {
	return l.WithFields("engine", engineID)
}

// WithStage tags entries with the preprocessing stage in progress.
func (l *Logger) WithStage(stage string) *Logger {
	return l.WithFields("stage", stage)
}

// WithError tags entries with an error value.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

// Package-level wrappers over the process-wide logger.

func Debug(args ...interface{}) {
	Get().Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	Get().Debugf(template, args...)
}

func Info(args ...interface{}) {
	Get().Info(args...)
}

func Infof(template string, args ...interface{}) {
	Get().Infof(template, args...)
}

func Warn(args ...interface{}) {
	Get().Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	Get().Warnf(template, args...)
}

func Error(args ...interface{}) {
	Get().Error(args...)
}

func Errorf(template string, args ...interface{}) {
	Get().Errorf(template, args...)
}

// Fatal logs at fatal level and exits the process.
func Fatal(args ...interface{}) {
	Get().Fatal(args...)
}

func Fatalf(template string, args ...interface{}) {
	Get().Fatalf(template, args...)
}

func WithFields(fields ...interface{}) *Logger {
	return Get().WithFields(fields...)
}

func WithRequestID(requestID string) *Logger {
	return Get().WithRequestID(requestID)
}

func WithEngine(engineID string) *Logger {
	return Get().WithEngine(engineID)
}

func Sync() error {
	return Get().Sync()
}
