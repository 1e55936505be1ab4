package logging

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDKey is the fiber locals key the requestid middleware stores under
const RequestIDKey = "requestid"

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Logger holds the zerolog logger instance
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new logger instance with the specified log level
func NewLogger(logLevel LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.logger
}

// WithContext adds trace and span ids from ctx to the logger
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logCtx := l.logger.With()

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		logCtx = logCtx.Str("trace_id", spanCtx.TraceID().String())
		logCtx = logCtx.Str("span_id", spanCtx.SpanID().String())
	}

	contextualLogger := logCtx.Logger()
	return &contextualLogger
}

// LogHTTPRequest logs a finished request. Client errors log at warn level
// and server errors at error level.
func (l *Logger) LogHTTPRequest(c *fiber.Ctx, status int, duration time.Duration) {
	var event *zerolog.Event
	switch {
	case status >= fiber.StatusInternalServerError:
		event = l.logger.Error()
	case status >= fiber.StatusBadRequest:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}

	if reqID, ok := c.Locals(RequestIDKey).(string); ok && reqID != "" {
		event = event.Str("req_id", reqID)
	}
	event.
		Str("ip", c.IP()).
		Str("method", c.Method()).
		Str("route", c.Route().Path).
		Str("url", c.OriginalURL()).
		Int("status", status).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("HTTP request processed")
}

// LogSync logs the outcome of a reconcile run
func (l *Logger) LogSync(target string, added, updated, removed int, duration time.Duration) {
	l.logger.Info().
		Str("target", target).
		Int("added", added).
		Int("updated", updated).
		Int("removed", removed).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Library sync completed")
}

// FiberLoggerMiddleware creates a Fiber-compatible logging middleware. An
// error returned down the chain has not been written yet, so its status is
// taken from the error itself.
func (l *Logger) FiberLoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		l.LogHTTPRequest(c, status, time.Since(start))
		return err
	}
}
