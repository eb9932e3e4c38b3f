// Package logging sets up process-wide structured logging. Library packages
// log through per-scope otelslog loggers; this package routes the slog
// default somewhere useful for binaries whose stdout is occupied by a UI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Setup points the default slog logger at the given file. An empty path
// discards logs. The returned cleanup closes the file.
func Setup(path string) (func(), error) {
	if path == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return func() { _ = file.Close() }, nil
}
