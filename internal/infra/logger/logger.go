package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the JSON logger written to stdout. Debug records are kept only in the dev environment.
func New(env string) *slog.Logger {
	return NewTo(os.Stdout, env)
}

func NewTo(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("app", "thawplan", "env", env)
}
