// Package zaplog backs the onboarding Logger and ActivitySink with zap.
package zaplog

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/activitymap"
)

// Options controls how the zap logger is built.
type Options struct {
	Level       string
	Development bool
	// Format forces "text" or "json". Empty picks text in development.
	Format string
	Output io.Writer
}

// New builds a zap logger with ISO8601 timestamps.
func New(opts Options) *zap.Logger {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(buildEncoder(opts), zapcore.AddSync(out), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func buildEncoder(opts Options) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	isText := strings.EqualFold(opts.Format, "text") || (opts.Format == "" && opts.Development)
	if isText {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Adapter implements onboarding.Logger on a sugared zap logger.
type Adapter struct {
	sugar *zap.SugaredLogger
}

func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *Adapter) Debug(format string, args ...any) { a.sugar.Debugf(format, args...) }
func (a *Adapter) Info(format string, args ...any)  { a.sugar.Infof(format, args...) }
func (a *Adapter) Warn(format string, args ...any)  { a.sugar.Warnf(format, args...) }
func (a *Adapter) Error(format string, args ...any) { a.sugar.Errorf(format, args...) }

// Named returns an adapter for a child logger.
func (a *Adapter) Named(name string) *Adapter {
	return &Adapter{sugar: a.sugar.Named(name)}
}

// NewActivitySink writes every activity event as one structured log line in
// the normalized activitymap shape.
func NewActivitySink(logger *zap.Logger, opts ...activitymap.Option) onboarding.ActivitySink {
	if logger == nil {
		logger = zap.NewNop()
	}

	return activitymap.Sink(func(_ context.Context, n activitymap.Normalized) error {
		fields := []zap.Field{
			zap.String("actor_id", n.ActorID),
			zap.String("object_type", n.ObjectType),
			zap.String("channel", n.Channel),
			zap.Time("occurred_at", n.OccurredAt),
		}
		if n.ObjectID != "" {
			fields = append(fields, zap.String("object_id", n.ObjectID))
		}
		if len(n.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", n.Metadata))
		}

		logger.Info(n.ObjectType+" "+n.Verb, fields...)
		return nil
	}, opts...)
}

var _ onboarding.Logger = (*Adapter)(nil)
