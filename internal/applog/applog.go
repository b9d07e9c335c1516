// Package applog centralizes slog construction so every ms-manager
// entrypoint gets the same tint-backed handler instead of repeating it.
// Grounded on the teacher's telemetry-data CLI's newLogger (cli/root.go).
package applog

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a slog.Logger writing to w, gated to debug level when verbose
// is set (mirrors the --verbose/-v flag every cmd/ subcommand exposes).
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
