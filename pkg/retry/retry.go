package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, default 0.1 for +/-10% jitter
}

// DefaultConfig returns sensible defaults for database operations
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// policy converts the config into a backoff policy bound to ctx.
func (c *Config) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialDelay
	eb.MaxInterval = c.MaxDelay
	eb.Multiplier = c.Multiplier
	eb.RandomizationFactor = c.JitterFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// DoIfRetryable runs fn until it succeeds, fails with an error IsRetryable
// rejects, or cfg's retries are spent. Permanent errors (constraint violations,
// bad SQL, not found) return immediately. A nil cfg uses DefaultConfig, and
// context cancellation during a wait returns ctx.Err().
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResultIfRetryable(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResultIfRetryable is DoIfRetryable for operations returning a value.
func DoWithResultIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return backoff.RetryWithData(func() (T, error) {
		v, err := fn()
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, cfg.policy(ctx))
}

// RetryableError is an interface for errors that explicitly declare their retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryableSQLStates are PostgreSQL error codes worth retrying: connection
// exceptions, serialization/deadlock failures, and server resource limits.
var retryableSQLStates = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"i/o timeout",
	"network is unreachable",
	"the database system is starting up",
	"conn closed",
}

// IsRetryable determines if an error is transient and worth retrying.
//
// The function checks errors in this order:
// 1. An error in the chain implementing RetryableError decides for itself
// 2. A PostgreSQL error is classified by SQLSTATE
// 3. Otherwise, pattern-match against known transient error strings
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLStates[pgErr.Code]
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
