// Package logging builds the process-wide structured logger, the same way
// the teacher injects a single *slog.Logger through fx into every component.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler slog.Logger for production, or a text handler
// when dev is true. Callers scope it per component with logger.With(...),
// matching enricher_middleware.go's usage in the teacher.
func New(dev bool) *slog.Logger {
	level := slog.LevelInfo
	if dev {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
