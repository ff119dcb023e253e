package layerstream

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with layerstream-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithSource adds the data source name to the logger.
func (l *Logger) WithSource(name string) *Logger {
	return &Logger{Logger: l.Logger.With("source", name)}
}

// WithLayer adds a layer index field to the logger.
func (l *Logger) WithLayer(layer int) *Logger {
	return &Logger{Logger: l.Logger.With("layer", layer)}
}

// LogOpen logs the outcome of an open/index pass.
func (l *Logger) LogOpen(name string, layers int, size int64, err error) {
	if err != nil {
		l.Error("open failed", "source", name, "error", err)
	} else {
		l.Info("file opened", "source", name, "layers", layers, "size_bytes", size)
	}
}

// LogLayerLoad logs a layer access.
func (l *Logger) LogLayerLoad(layer, segments int, hit bool, err error) {
	if err != nil {
		l.Warn("layer load failed", "layer", layer, "error", err)
	} else {
		l.Debug("layer loaded", "layer", layer, "segments", segments, "hit", hit)
	}
}

// LogGhostPass logs completion or cancellation of a ghost build pass.
func (l *Logger) LogGhostPass(rendered, failed, total int, cancelled bool) {
	if cancelled {
		l.Info("ghost build cancelled", "rendered", rendered, "total", total)
	} else if failed > 0 {
		l.Warn("ghost build completed with failures",
			"rendered", rendered, "failed", failed, "total", total)
	} else {
		l.Info("ghost build completed", "rendered", rendered, "total", total)
	}
}
