package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements the ports.Logger interface on top of zap.
type ZapLogger struct {
	logger *zap.Logger
}

// ParseLevel converts a string level to a zap level. Unknown values fall
// back to Info.
func ParseLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
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

// NewZapLogger creates a JSON structured logger at the given level.
func NewZapLogger(level zapcore.Level) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: z}, nil
}

// Sync flushes buffered log entries. Call before exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func toZapFields(fields []map[string]interface{}) []zap.Field {
	var out []zap.Field
	for _, m := range fields {
		for k, v := range m {
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.logger.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.logger.Error(msg, zf...)
}
