package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/hfsql/hfsql/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger builds the process logger. Every record carries the service,
// profile and engine mode. The startup dataset is added when one is
// configured.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("engine", engineMode(cfg.Engine)),
	}
	if cfg.Hub.Dataset != "" {
		attrs = append(attrs, slog.String("dataset", cfg.Hub.Dataset))
	}
	return slog.New(handler).With(attrs...)
}

// WithDataset scopes logger to a Hugging Face dataset id.
func WithDataset(logger *slog.Logger, dataset string) *slog.Logger {
	if dataset == "" {
		return logger
	}
	return logger.With(slog.String("dataset", dataset))
}

func engineMode(cfg config.EngineConfig) string {
	if cfg.DatabasePath == "" {
		return "memory"
	}
	return "file"
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
