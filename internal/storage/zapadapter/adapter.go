// Package zapadapter bridges pgx query logging into a go.uber.org/zap.Logger
// and carries the HTTP request id from context into every query log line.
package zapadapter

import (
	"context"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key string

var idKey key

// Logger implements pgx.Logger on top of zap.
type Logger struct {
	logger *zap.Logger
}

// NewContextWithID attaches a request id to ctx; IDFromContext reads it back.
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey).(string)
	return id, ok
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]zapcore.Field, 0, len(data)+1)
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	for k, v := range data {
		fields = append(fields, zap.Reflect(k, v))
	}

	switch level {
	case pgx.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	case pgx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	}
}
