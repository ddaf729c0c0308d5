// Package fsio retries filesystem operations that fail with transient errno values, such as a
// stale NFS handle, a bounded number of times.
package fsio

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/retry"
	"golang.org/x/sys/unix"
)

// transientCandidates are the errno names accepted by fs_transientErrnos.
var transientCandidates = map[string]syscall.Errno{
	"ESTALE":    unix.ESTALE,
	"EAGAIN":    unix.EAGAIN,
	"EBUSY":     unix.EBUSY,
	"EINTR":     unix.EINTR,
	"EIO":       unix.EIO,
	"ENOLCK":    unix.ENOLCK,
	"ETIMEDOUT": unix.ETIMEDOUT,
	"ENFILE":    unix.ENFILE,
	"EMFILE":    unix.EMFILE,
}

// Policy decides which errors are transient and how often they are retried.
type Policy struct {
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	errnos     map[syscall.Errno]struct{}
}

const defaultMaxBackoff = time.Second

// NewPolicy builds a policy from errno names like "EAGAIN". ESTALE is always part of the set. The
// backoff doubles after every failed attempt, up to one second.
func NewPolicy(retries int, backoff time.Duration, errnoNames []string) (*Policy, error) {
	if retries < 0 {
		return nil, errors.NewConfigurationError("transient retries must not be negative, got %d", retries)
	}

	p := &Policy{
		retries:    retries,
		backoff:    backoff,
		maxBackoff: defaultMaxBackoff,
		errnos:     map[syscall.Errno]struct{}{unix.ESTALE: {}},
	}

	for _, name := range errnoNames {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		errno, ok := transientCandidates[name]
		if !ok {
			return nil, errors.NewConfigurationError("unknown errno %q", name)
		}

		p.errnos[errno] = struct{}{}
	}

	return p, nil
}

// NewPolicyFromSettings reads the fs_transient* settings.
func NewPolicyFromSettings(tSettings *settings.Settings) (*Policy, error) {
	fs := tSettings.FileSystem

	p, err := NewPolicy(fs.TransientRetries, fs.TransientBackoff, fs.TransientErrnos)
	if err != nil {
		return nil, err
	}

	if fs.TransientMaxBackoff > 0 {
		p.maxBackoff = fs.TransientMaxBackoff
	}

	return p, nil
}

// DefaultPolicy retries ESTALE three times.
func DefaultPolicy() *Policy {
	p, _ := NewPolicy(3, 10*time.Millisecond, nil)
	return p
}

func (p *Policy) Retries() int {
	return p.retries
}

// IsTransient reports whether err carries one of the policy's errno values.
func (p *Policy) IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	_, ok := p.errnos[errno]

	return ok
}

// Do runs fn, retrying transient failures. When the retries are exhausted the last error is
// returned wrapped in a transient i/o error; non transient errors are returned unchanged.
func Do[T any](ctx context.Context, logger ulogger.Logger, p *Policy, op string, fn func() (T, error)) (T, error) {
	result, err := retry.Retry(ctx, logger, fn, p.retryOptions(op)...)
	if err != nil && p.IsTransient(err) {
		return result, errors.NewTransientIOError("[FS][%s] giving up after %d attempts", op, p.retries+1, err)
	}

	return result, err
}

func (p *Policy) retryOptions(op string) []retry.Options {
	return []retry.Options{
		retry.WithRetryCount(p.retries + 1),
		retry.WithBackoffDurationType(p.backoff),
		retry.WithBackoffFactor(2.0),
		retry.WithMaxBackoff(p.maxBackoff),
		retry.WithRetryIf(p.IsTransient),
		retry.WithMessage("[FS][" + op + "] transient error"),
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, logger ulogger.Logger, p *Policy, op string, fn func() error) error {
	_, err := Do(ctx, logger, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})

	return err
}
