package retryutil

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultRetryDelay   = 2 * time.Second
	defaultRetryTimeout = 12 * time.Second
)

// ErrPermanent marks an error that should not be retried.
var ErrPermanent = errors.New("permanent failure")

// AsyncRetry runs fn once in the background after delay, bounded by timeout.
func AsyncRetry(logger *slog.Logger, name string, delay, timeout time.Duration, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = defaultRetryTimeout
	}
	if logger != nil {
		logger.Info(name+"_retry_scheduled", "delay", delay.String(), "timeout", timeout.String())
	}
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			<-timer.C
			timer.Stop()
		}
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			if logger != nil {
				logger.Warn(name+"_retry_failed", "error", err.Error())
			}
			return
		}
		if logger != nil {
			logger.Info(name + "_retry_ok")
		}
	}()
}

// Do calls fn up to 1+retries times, sleeping delay between attempts. It
// stops early when ctx is done or fn returns an error wrapping ErrPermanent.
// The last error is returned.
func Do(ctx context.Context, retries int, delay time.Duration, fn func(ctx context.Context, attempt int) error) error {
	if fn == nil {
		return nil
	}
	if retries < 0 {
		retries = 0
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		err = fn(ctx, attempt)
		if err == nil || errors.Is(err, ErrPermanent) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
	return err
}
