package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance. It discards output until Init is called.
	Logger = zerolog.Nop()
)

// Init initializes the global logger writing to stdout
func Init(level string) {
	var output io.Writer = os.Stdout

	// Pretty console logging in development
	if os.Getenv("ENV") == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	InitWithWriter(level, output)
}

// InitWithWriter initializes the global logger writing to w
func InitWithWriter(level string, w io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	zerolog.DurationFieldUnit = time.Second

	Logger = zerolog.New(w).
		With().
		Timestamp().
		Str("service", "metricwatch").
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithMetric returns a component logger bound to a metric name
func WithMetric(component, metric string) zerolog.Logger {
	return Logger.With().
		Str("component", component).
		Str("metric", metric).
		Logger()
}

// WithRequestID returns a logger with a request ID field
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}
