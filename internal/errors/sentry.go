package errors

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// sentryFlushTimeout bounds how long shutdown waits for buffered events.
const sentryFlushTimeout = 2 * time.Second

// SentryConfig holds the options used to initialize error telemetry.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// InitSentry initializes the sentry client and installs a Reporter that
// captures absorbed errors. The returned function flushes pending events and
// must be called on shutdown. An empty DSN yields a disabled client.
func InitSentry(cfg SentryConfig) (func(), error) {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  sampleRate,
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	SetReporter(func(err error) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("kind", kindOf(err))
			sentry.CaptureException(err)
		})
	})

	return func() {
		SetReporter(nil)
		sentry.Flush(sentryFlushTimeout)
	}, nil
}

func kindOf(err error) string {
	var evalErr *EvaluationError
	var classErr *ClassificationError
	var validationErr *ValidationError
	switch {
	case As(err, &evalErr):
		return "evaluation"
	case As(err, &classErr):
		return "classification"
	case As(err, &validationErr):
		return "validation"
	default:
		return "other"
	}
}
