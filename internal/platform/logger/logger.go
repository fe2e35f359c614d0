package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a structured JSON logger on stdout. level is one of debug,
// info, warn or error; anything else logs at info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}
