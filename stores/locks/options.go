package locks

import (
	"time"
)

// Option configures a Manager.
type Option func(*Manager)

// WithProcessProbe replaces the pid liveness check used by the reaper.
func WithProcessProbe(alive func(pid int) bool) Option {
	return func(m *Manager) {
		m.alive = alive
	}
}

// WithDomain overrides the host name recorded in tickets.
func WithDomain(domain string) Option {
	return func(m *Manager) {
		m.domain = domain
	}
}

// WithPID overrides the process id recorded in tickets.
func WithPID(pid int) Option {
	return func(m *Manager) {
		m.pid = pid
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.reapInterval = d
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		m.staleAfter = d
	}
}

type lockOptions struct {
	timeout             time.Duration
	deleteLockOnTimeout bool
}

// LockOption configures a single Lock call.
type LockOption func(*lockOptions)

// WithTimeout bounds the wait. A zero timeout waits until the lock is acquired or ctx is done.
func WithTimeout(timeout time.Duration) LockOption {
	return func(o *lockOptions) {
		o.timeout = timeout
	}
}

func WithNoTimeout() LockOption {
	return WithTimeout(0)
}

// WithDeleteLockOnTimeout clears all state of a lock that could not be acquired in time and
// starts over instead of failing.
func WithDeleteLockOnTimeout() LockOption {
	return func(o *lockOptions) {
		o.deleteLockOnTimeout = true
	}
}
