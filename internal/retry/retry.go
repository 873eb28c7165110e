package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrTransient marks an error as worth retrying when wrapped with %w.
var ErrTransient = errors.New("transient failure")

// Policy bounds the number of attempts and the backoff between them.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultPolicy is four attempts, doubling from one second.
var DefaultPolicy = Policy{Attempts: 4, Initial: time.Second, Max: 8 * time.Second, Multiplier: 2}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Max > 0 && p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// Do calls fn until it succeeds, returns a non-transient error, or attempts run out.
// The last error is returned unchanged so callers can still inspect its type.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	if logger == nil {
		logger = slog.Default()
	}

	backoff := p.Initial
	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}

		logger.Warn("retry.backoff",
			"op", op,
			"attempt", i+1,
			"max_attempts", p.Attempts,
			"backoff", backoff.String(),
			"err", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = time.Duration(float64(backoff) * p.Multiplier)
			if p.Max > 0 && backoff > p.Max {
				backoff = p.Max
			}
		case <-ctx.Done():
			timer.Stop()
			logger.Error("retry.cancelled", "op", op, "err", ctx.Err())
			return ctx.Err()
		}
	}
	logger.Error("retry.exhausted", "op", op, "attempts", p.Attempts, "err", lastErr)
	return lastErr
}
