package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"coursepay/internal/config"

	"github.com/rs/zerolog"
)

// New builds the process logger. Levels: trace|debug|info|warn|error.
// Formats: json (default) or console.
func New(cfg config.LogConfig) *zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg config.LogConfig, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &l
}

// Nop is used by tests and by constructors handed a nil logger.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Redact keeps enough of an email or id to correlate log lines.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
