// Package ksocketlog binds a named, structured sub-logger per protocol
// component, the same "logging.bind(name=...)" idiom the original Python
// implementation used around loguru, and that ossrs-go-oryx-lib's logger
// package provides by hand for each connection. Here the heavy lifting is
// delegated to zerolog instead of being reimplemented.
package ksocketlog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	output  io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	base              = zerolog.New(output).With().Timestamp().Logger()
)

// Bind returns a child logger tagged with the given component name, mirroring
// `logger.bind(name="SimpleSocket")` in the original source.
func Bind(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

// SetOutput redirects all future Bind() loggers to w; loggers already bound
// (including package-level ones) keep their previous output. Useful for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	base = zerolog.New(output).With().Timestamp().Logger()
}

// SetLevel adjusts the global minimum level, e.g. zerolog.DebugLevel.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
