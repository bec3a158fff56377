package config

import (
	"io"
	log "log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// NewLogger builds the colourised handler used by every binary.
func NewLogger(w io.Writer, level string) *log.Logger {
	return log.New(tint.NewHandler(w, &tint.Options{
		Level:      LogLevels[strings.ToLower(level)],
		TimeFormat: time.TimeOnly,
	}))
}
