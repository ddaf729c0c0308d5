package retry

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/ulogger"
)

type SetOptions struct {
	Message             string
	BackoffDurationType time.Duration
	RetryCount          int
	BackoffFactor       float64
	MaxBackoff          time.Duration
	RetryIf             func(error) bool
}

type Options func(*SetOptions)

func WithMessage(message string) Options {
	return func(o *SetOptions) {
		o.Message = message
	}
}

func WithBackoffDurationType(durationType time.Duration) Options {
	return func(o *SetOptions) {
		o.BackoffDurationType = durationType
	}
}

// WithRetryCount sets the total number of attempts.
func WithRetryCount(retryCount int) Options {
	return func(o *SetOptions) {
		o.RetryCount = retryCount
	}
}

func WithBackoffFactor(factor float64) Options {
	return func(o *SetOptions) {
		o.BackoffFactor = factor
	}
}

func WithMaxBackoff(maxBackoff time.Duration) Options {
	return func(o *SetOptions) {
		o.MaxBackoff = maxBackoff
	}
}

// WithRetryIf limits retries to errors accepted by fn, any other error is returned at once.
func WithRetryIf(fn func(error) bool) Options {
	return func(o *SetOptions) {
		o.RetryIf = fn
	}
}

func NewSetOptions(opts ...Options) *SetOptions {
	o := &SetOptions{
		Message:             "",
		BackoffDurationType: time.Second,
		RetryCount:          3,
		BackoffFactor:       2.0,
		MaxBackoff:          30 * time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Delay is the backoff slept after the given failed attempt, counting from zero.
func (o *SetOptions) Delay(attempt int) time.Duration {
	d := o.BackoffDurationType
	if d > o.MaxBackoff {
		return o.MaxBackoff
	}

	for i := 0; i < attempt && d < o.MaxBackoff; i++ {
		d = CappedExponentialBackoff(d, o.BackoffFactor, o.MaxBackoff)
	}

	return d
}

// Retry calls f until it succeeds, the attempts are exhausted, f returns an error RetryIf rejects
// or ctx is done. The last error of f is returned when attempts run out.
func Retry[T any](ctx context.Context, logger ulogger.Logger, f func() (T, error), opts ...Options) (T, error) {
	o := NewSetOptions(opts...)

	var (
		result T
		err    error
	)

	for i := 0; i < o.RetryCount; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return result, err
			}

			return result, ctxErr
		}

		result, err = f()
		if err == nil {
			return result, nil
		}

		if o.RetryIf != nil && !o.RetryIf(err) {
			return result, err
		}

		if i == o.RetryCount-1 {
			break
		}

		if o.Message != "" {
			logger.Warnf("%s (attempt %d): %v", o.Message, i+1, err)
		}

		if sleepErr := sleepFunc(ctx, o.Delay(i)); sleepErr != nil {
			return result, err
		}
	}

	return result, err
}
