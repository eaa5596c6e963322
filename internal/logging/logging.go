// Package logging configures the process-wide zerolog logger and hands out
// component-scoped children: one base logger constructed at startup, every
// subsystem attaching its own "component" field rather than instantiating
// a fresh logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

var (
	mu         sync.Mutex
	baseWriter io.Writer = os.Stderr
	baseLogger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Setup(Options{Level: zerolog.InfoLevel})
}

// Options controls how the base logger is constructed.
type Options struct {
	Level zerolog.Level
	// JSON forces structured JSON output even on an interactive terminal.
	// When false, an interactive stderr gets zerolog's console writer.
	JSON bool
}

// Setup (re)configures the process-wide logger. Safe to call more than once;
// runtime verbosity changes from set_level go through SetLevel instead.
func Setup(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = baseWriter
	if !opts.JSON && isTerminal(os.Stderr) {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	baseLogger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(opts.Level)
	log.Logger = baseLogger
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetLevel adjusts the global log level at runtime. Used by the backend
// façade's set_level surface.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.SetGlobalLevel(level)
}

// Component returns a child logger tagged with the given subsystem name.
func Component(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return baseLogger.With().Str("component", name).Logger()
}

// ParseLevel maps the MCP set_level argument onto a zerolog.Level.
func ParseLevel(s string) (zerolog.Level, error) {
	return zerolog.ParseLevel(s)
}
