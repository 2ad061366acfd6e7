// Package logger provides structured logging for datasync
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is the type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// DataSourceKey is the context key for the data source id
	DataSourceKey contextKey = "data_source_id"
	// QueueItemKey is the context key for the queue item id
	QueueItemKey contextKey = "queue_item_id"
)

// Config represents logger configuration
type Config struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	Encoding    string   `mapstructure:"encoding"` // json or console
	OutputPaths []string `mapstructure:"output_paths"`
}

// New creates a new zap logger
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithDataSource stores a data source id in ctx.
func WithDataSource(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DataSourceKey, id)
}

// WithQueueItem stores a queue item id in ctx.
func WithQueueItem(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, QueueItemKey, id)
}

// WithContext returns a logger with context values
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	logger := OrNop(base)

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		logger = logger.With(zap.String("request_id", requestID))
	}

	if dsID, ok := ctx.Value(DataSourceKey).(string); ok {
		logger = logger.With(zap.String("data_source_id", dsID))
	}

	if itemID, ok := ctx.Value(QueueItemKey).(string); ok {
		logger = logger.With(zap.String("queue_item_id", itemID))
	}

	return logger
}
