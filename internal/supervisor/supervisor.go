package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// Reporter receives one status line per failed attempt.
type Reporter interface {
	SendMessage(ctx context.Context, text string, details ...string) error
}

// Attempt is the ephemeral record of a single failed try.
type Attempt struct {
	Operation string
	Number    int
	Max       int
	Err       error
}

// Message renders the user-visible failure line for the attempt.
func (a Attempt) Message() string {
	return fmt.Sprintf("%s failed (attempt %d/%d): %v", a.Operation, a.Number, a.Max, a.Err)
}

// ExhaustedError is returned once every attempt of an operation has failed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err carries an ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RetryCounter func(ctx context.Context, operation string, attempt int)
	Duration     func(ctx context.Context, operation string, d time.Duration, err error)
}

// Supervisor runs named operations with bounded exponential backoff.
type Supervisor struct {
	reporter       Reporter
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
	metrics        Metrics
	logger         *log.Logger
	wait           func(ctx context.Context, d time.Duration) error
}

// Option configures supervisor behaviour.
type Option func(*Supervisor)

// WithMaxAttempts caps the number of tries per operation. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the delay before the second attempt; each later delay doubles.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.baseDelay = d
		}
	}
}

// WithAttemptTimeout bounds every individual attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.attemptTimeout = d
	}
}

// WithMetrics sets supervisor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithLogger logs reports the reporter could not deliver.
func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a supervisor reporting through r. A nil reporter is allowed.
func New(r Reporter, opts ...Option) *Supervisor {
	s := &Supervisor{
		reporter:    r,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      log.New(io.Discard, "", 0),
		wait:        sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the configured attempt cap.
func (s *Supervisor) MaxAttempts() int { return s.maxAttempts }

// Backoff returns the delay after the given failed attempt (1-based).
func (s *Supervisor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return s.baseDelay * time.Duration(1<<uint(attempt-1))
}

// Execute runs fn until it succeeds, the attempt cap is hit, or ctx ends.
// Every failed attempt is reported before the backoff wait. There is no wait
// after the final attempt.
func Execute[T any](ctx context.Context, s *Supervisor, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.attemptTimeout)
		}
		started := time.Now()
		res, err := fn(attemptCtx)
		cancel()
		if s.metrics.Duration != nil {
			s.metrics.Duration(ctx, operation, time.Since(started), err)
		}
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		rec := Attempt{Operation: operation, Number: attempt, Max: s.maxAttempts, Err: err}
		if s.metrics.RetryCounter != nil {
			s.metrics.RetryCounter(ctx, operation, attempt)
		}
		if s.reporter != nil {
			if err := s.reporter.SendMessage(ctx, rec.Message()); err != nil {
				s.logger.Printf("warn: report %s attempt %d: %v", operation, attempt, err)
			}
		}
		if attempt == s.maxAttempts {
			break
		}
		if err := s.wait(ctx, s.Backoff(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Operation: operation, Attempts: s.maxAttempts, Err: lastErr}
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, s *Supervisor, operation string, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, s, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
