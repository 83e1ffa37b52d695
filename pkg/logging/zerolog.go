// Package logging wraps zerolog with the component-tagged helpers used
// across the registration pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped structured logger
type Logger struct {
	logger zerolog.Logger
}

// New creates a JSON logger writing to w at the given level
func New(writer io.Writer, level zerolog.Level) *Logger {
	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}
}

// NewConsole creates a human-readable logger on stdout
func NewConsole(level zerolog.Level) *Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return New(consoleWriter, level)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel converts a config level name into a zerolog level
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
}

// Component returns a child logger tagging every event with the component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

// Info logs an informational message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	withFields(l.logger.Info(), fields).Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	withFields(l.logger.Debug(), fields).Msg(message)
}

// Warning logs a warning
func (l *Logger) Warning(message string, fields map[string]interface{}) {
	withFields(l.logger.Warn(), fields).Msg(message)
}

// Error logs a failed operation
func (l *Logger) Error(err error, fields map[string]interface{}) {
	withFields(l.logger.Error().Err(err), fields).Msg("operation failed")
}

func withFields(event *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}
