package git

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// RetryConfig bounds the retries of the shared HTTP
// transport.
type RetryConfig struct {
	// MaxRetries is the number of retries after the
	// first attempt. Zero disables retrying.
	MaxRetries int
	// WaitMin is the first backoff delay.
	WaitMin time.Duration
	// WaitMax caps the exponential backoff delay.
	WaitMax time.Duration
	// Timeout applies to each individual attempt.
	Timeout time.Duration
}

// DefaultRetryConfig returns the bounds used when no
// configuration overrides them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		WaitMin:    time.Second,
		WaitMax:    30 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// NewHTTPClient returns an *http.Client that retries
// connection errors, 429 and 5xx responses with
// exponential backoff. When retries are exhausted the
// last response is handed back unchanged so callers can
// map its status code.
func NewHTTPClient(
	cfg RetryConfig,
	logger *zap.Logger,
) *http.Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.WaitMin
	rc.RetryWaitMax = cfg.WaitMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{l: logger.Sugar()}

	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}

	return rc.StandardClient()
}

// leveledLogger adapts zap to retryablehttp's
// LeveledLogger interface.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (ll leveledLogger) Error(msg string, kv ...interface{}) {
	ll.l.Errorw(msg, kv...)
}

func (ll leveledLogger) Info(msg string, kv ...interface{}) {
	ll.l.Infow(msg, kv...)
}

func (ll leveledLogger) Debug(msg string, kv ...interface{}) {
	ll.l.Debugw(msg, kv...)
}

func (ll leveledLogger) Warn(msg string, kv ...interface{}) {
	ll.l.Warnw(msg, kv...)
}
