package logging

import (
	"log/slog"
	"os"
)

// New builds the process logger: a JSON handler on stdout. The level comes
// from LOG_LEVEL (debug, info, warn, error); anything unset or unknown runs
// at info. Read directly from the environment because the logger has to
// exist before the config layer can report its own errors.
func New() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
