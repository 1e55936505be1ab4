package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger instance. Any format other
// than "json" writes human-readable console output.
func InitGlobalLogger(level LogLevel, format string, out io.Writer) *Logger {
	if format == "json" {
		globalLogger = NewLogger(level, out)
	} else {
		globalLogger = NewLogger(level, zerolog.ConsoleWriter{Out: out})
	}
	return globalLogger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(InfoLevel, os.Stdout)
	}
	return globalLogger
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	GetGlobalLogger().logger.Fatal().Msg(fmt.Sprintf(format, args...))
}
