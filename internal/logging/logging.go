// Package logging configures the debug log file using zerolog.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Open returns a logger writing to the given file, creating it if needed.
// An empty path disables logging entirely. Entries carry a fresh session
// id so appended runs in the same file can be told apart.
func Open(path string) (zerolog.Logger, func() error, error) {
	if path == "" {
		return zerolog.Nop(), func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(f).Level(zerolog.DebugLevel).With().
		Timestamp().
		Str("session", uuid.NewString()).
		Logger()
	return logger, f.Close, nil
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
