// Package logger provides structured logging for the archiver.
package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidFields is reported when logging fields are not key-value pairs.
var ErrInvalidFields = errors.New("invalid fields: must be key-value pairs")

// Interface defines the logger used across the archiver.
type Interface interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	With(fields ...any) Interface
	WithRunID(runID string) Interface
	WithComponent(component string) Interface
	WithItem(key string) Interface
	WithDuration(d time.Duration) Interface
	WithError(err error) Interface
	Sync() error
}

// Config is the logging section of the application config.
type Config struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

// Logger implements Interface on top of zap.
type Logger struct {
	zapLogger *zap.Logger
}

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New builds a logger writing to stderr. Stdout is left to the command's
// own report output.
func New(config Config) (*Logger, error) {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Encoding == "" {
		config.Encoding = "console"
	}
	level, ok := logLevels[strings.ToLower(config.Level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", config.Level)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
		}
		encoderConfig.ConsoleSeparator = " | "
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	switch config.Encoding {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log encoding %q", config.Encoding)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)}
	if config.Development {
		opts = append(opts, zap.Development())
	}
	return &Logger{zapLogger: zap.New(core, opts...)}, nil
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{zapLogger: z}
}

func (l *Logger) Debug(msg string, fields ...any) {
	l.zapLogger.Debug(msg, toZapFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...any) {
	l.zapLogger.Info(msg, toZapFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...any) {
	l.zapLogger.Warn(msg, toZapFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...any) {
	l.zapLogger.Error(msg, toZapFields(fields)...)
}

func (l *Logger) With(fields ...any) Interface {
	return &Logger{zapLogger: l.zapLogger.With(toZapFields(fields)...)}
}

func (l *Logger) WithRunID(runID string) Interface {
	return l.With("run_id", runID)
}

func (l *Logger) WithComponent(component string) Interface {
	return l.With("component", component)
}

func (l *Logger) WithItem(key string) Interface {
	return l.With("item", key)
}

func (l *Logger) WithDuration(d time.Duration) Interface {
	return l.With("duration", d)
}

func (l *Logger) WithError(err error) Interface {
	return &Logger{zapLogger: l.zapLogger.With(zap.Error(err))}
}

func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

// toZapFields converts alternating key/value pairs into zap fields.
// zap.Field values are passed through unchanged.
func toZapFields(fields []any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	zapFields := make([]zap.Field, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		switch field := fields[i].(type) {
		case zap.Field:
			zapFields = append(zapFields, field)
		case string:
			if i+1 >= len(fields) {
				zapFields = append(zapFields, zap.NamedError("logger_error", fmt.Errorf("%w: missing value for %q", ErrInvalidFields, field)))
				continue
			}
			if err, ok := fields[i+1].(error); ok {
				zapFields = append(zapFields, zap.NamedError(field, err))
			} else {
				zapFields = append(zapFields, zap.Any(field, fields[i+1]))
			}
			i++
		default:
			zapFields = append(zapFields, zap.NamedError("logger_error", fmt.Errorf("%w: got %T", ErrInvalidFields, field)))
		}
	}
	return zapFields
}
