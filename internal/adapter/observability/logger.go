package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/fairyhunter13/querypanda/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields. Logs go
// to stderr because stdout carries query output on the command line.
func SetupLogger(cfg config.Config) *slog.Logger {
	return NewLogger(cfg, os.Stderr)
}

// NewLogger builds the service logger writing to w.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; elsewhere default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
