package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxAttempts is the attempt cap used when a Policy leaves it unset.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the first backoff wait; each later wait doubles it.
	DefaultBaseDelay = time.Second
)

// Policy describes how a network call is retried: a fixed attempt cap with
// exponential backoff between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable reports whether err is worth another attempt. A nil predicate
	// retries everything except errors marked with Permanent and context errors.
	Retryable func(err error) bool

	// OnRetry is called before each backoff wait with the attempt that just
	// failed (1-based), the wait about to happen and the failure.
	OnRetry func(attempt int, delay time.Duration, err error)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Attempts returns the effective attempt cap.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// cap is reached. The returned error is the last one fn produced, with any
// Permanent marker removed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("retry: nil func")
	}

	var (
		attempt int
		lastErr error
	)

	inner := goretry.WithMaxRetries(uint64(p.Attempts()-1), goretry.NewExponential(p.baseDelay()))
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := inner.Next()
		if !stop && p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		return delay, stop
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})

	if perm, ok := err.(*permanentError); ok {
		return perm.err
	}
	return err
}
