package logging

import (
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var levels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (log.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return log.LevelInfo, nil
	}
	l, ok := levels[name]
	if !ok {
		return log.LevelInfo, fmt.Errorf("logging: unknown level %q", name)
	}
	return l, nil
}

type Options struct {
	Level string
	// JSON selects structured JSON output, used when logs are shipped
	// rather than read on a terminal.
	JSON    bool
	NoColor bool
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) (*log.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.JSON {
		return log.New(log.NewJSONHandler(w, &log.HandlerOptions{Level: level})), nil
	}
	return log.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    opts.NoColor,
	})), nil
}
