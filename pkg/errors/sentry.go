package errors

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// SentryConfig holds Sentry initialization options.
type SentryConfig struct {
	DSN         string
	Environment string
	ServerName  string
	Release     string
	SampleRate  float64
}

// DefaultSentryConfig returns defaults; the DSN comes from service config.
func DefaultSentryConfig() SentryConfig {
	return SentryConfig{
		SampleRate: 1.0,
	}
}

// InitSentry initializes the Sentry client. A missing DSN disables error
// tracking without failing startup.
func InitSentry(cfg SentryConfig) error {
	if cfg.DSN == "" {
		logger.Debug("sentry DSN not configured, error tracking disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		ServerName:  cfg.ServerName,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return err
	}

	logger.Info("sentry error tracking initialized",
		zap.String("environment", cfg.Environment),
		zap.String("server", cfg.ServerName),
	)
	return nil
}

// CaptureError reports an error with optional tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
