package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is wrapped into the error returned once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

type Config struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the upper bound of random delay added to each backoff sleep.
	// Zero selects the default; a negative value disables jitter.
	Jitter time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DelayHinter is implemented by errors that know how long the caller must wait
// before trying again (for example a rate limit reset). The hint replaces the
// exponential backoff delay for that attempt and is not capped by MaxDelay.
type DelayHinter interface {
	RetryAfter() (time.Duration, bool)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func Do(ctx context.Context, config Config, fn func() error) error {
	attempts := config.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	baseDelay := config.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	jitter := config.Jitter
	if jitter == 0 {
		jitter = 100 * time.Millisecond
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}

		var wait time.Duration
		if hint, ok := hintedDelay(err); ok {
			wait = hint
		} else {
			wait = delay
			if jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(jitter)))
			}
			if wait > maxDelay {
				wait = maxDelay
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrExhausted, attempts, lastErr)
}

func hintedDelay(err error) (time.Duration, bool) {
	var hinter DelayHinter
	if !errors.As(err, &hinter) {
		return 0, false
	}
	d, ok := hinter.RetryAfter()
	if !ok {
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	return d, true
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
