// Package logging configures the process-wide zerolog logger used across
// the job pipeline, protocol codec, and HTTP surface.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures the options used to configure the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error"; defaults to "info"
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every log entry; defaults to "mediaforge"
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initializes the global logger exactly once. Subsequent calls
// are no-ops so packages can call it defensively during init.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}

		service := cfg.Service
		if service == "" {
			service = "mediaforge"
		}

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the configured base logger.
func Base() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger annotated with a component name,
// e.g. "job-manager", "supervisor", "session".
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}
