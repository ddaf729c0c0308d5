// Package locks serializes access to named resources across processes using nothing but files on
// a shared filesystem.
//
// Every resource name maps to a ticket file under <folder>/locks/<h[0]>/<h>, h being the sha256 of
// the name. A caller appends a ticket line and reads the file back; the line index is its queue
// position. Position 0 holds the lock. Every other caller creates a marker file <h>.<position> and
// polls until the releasing party removes it. Unlock removes the lowest live marker, or the ticket
// file when nobody is waiting.
package locks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/fsio"
	"github.com/google/renameio"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jellydator/ttlcache/v3"
)

type Manager struct {
	logger         ulogger.Logger
	root           string
	domain         string
	pid            int
	pollInterval   time.Duration
	defaultTimeout time.Duration
	reapInterval   time.Duration
	staleAfter     time.Duration
	policy         *fsio.Policy
	paths          *lru.Cache[string, string]
	alive          func(pid int) bool
	observed       *ttlcache.Cache[string, observation]

	// held maps the ticket files locked through this manager to the ticket holding them.
	// superseded counts holders of this manager whose lock was cleared and taken over by another
	// caller of this manager and who have not called Unlock yet.
	heldMu     sync.Mutex
	held       map[string]string
	superseded map[string]int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type waitResult int

const (
	waitGranted waitResult = iota
	waitRequeue
	waitTimeout
)

// New creates a manager rooted at the configured lock_folder.
func New(logger ulogger.Logger, tSettings *settings.Settings, opts ...Option) (*Manager, error) {
	return NewAt(logger, tSettings, tSettings.Lock.Folder, opts...)
}

// NewAt creates a manager whose ticket files live under folder/locks. The reaper is started when
// the reap interval is positive and runs until Close is called.
func NewAt(logger ulogger.Logger, tSettings *settings.Settings, folder string, opts ...Option) (*Manager, error) {
	policy, err := fsio.NewPolicyFromSettings(tSettings)
	if err != nil {
		return nil, err
	}

	paths, err := lru.New[string, string](tSettings.Lock.PathCacheSize)
	if err != nil {
		return nil, errors.NewConfigurationError("[Locks] invalid lock_pathCacheSize %d", tSettings.Lock.PathCacheSize, err)
	}

	domain, err := os.Hostname()
	if err != nil || domain == "" {
		domain = "localhost"
	}

	m := &Manager{
		logger:         logger,
		root:           filepath.Join(folder, "locks"),
		domain:         domain,
		pid:            os.Getpid(),
		pollInterval:   tSettings.Lock.PollInterval,
		defaultTimeout: tSettings.Lock.DefaultTimeout,
		reapInterval:   tSettings.Lock.ReapInterval,
		staleAfter:     tSettings.Lock.StaleAfter,
		policy:         policy,
		paths:          paths,
		alive:          processAlive,
		held:           make(map[string]string),
		superseded:     make(map[string]int),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.pollInterval <= 0 {
		return nil, errors.NewConfigurationError("[Locks] poll interval must be positive, got %s", m.pollInterval)
	}

	if strings.ContainsAny(m.domain, " \t\n") {
		return nil, errors.NewConfigurationError("[Locks] domain %q must not contain whitespace", m.domain)
	}

	m.observed = ttlcache.New[string, observation](
		ttlcache.WithTTL[string, observation](2*m.staleAfter+time.Minute),
		ttlcache.WithDisableTouchOnHit[string, observation](),
	)

	initPrometheusMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.reapInterval > 0 {
		m.wg.Add(1)

		go m.reapLoop(ctx)
	}

	return m, nil
}

// Root returns the directory holding the ticket files.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the ticket file of name.
func (m *Manager) Path(name string) string {
	if p, ok := m.paths.Get(name); ok {
		return p
	}

	sum := sha256.Sum256([]byte(name))
	h := hex.EncodeToString(sum[:])
	p := filepath.Join(m.root, h[:1], h)

	m.paths.Add(name, p)

	return p
}

// Lock blocks until name is acquired, the timeout elapses or ctx is done. Without options the
// configured lock_defaultTimeout applies.
func (m *Manager) Lock(ctx context.Context, name string, opts ...LockOption) error {
	o := lockOptions{timeout: m.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	path := m.Path(name)
	start := time.Now()

	var deadline time.Time
	if o.timeout > 0 {
		deadline = start.Add(o.timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[Locks][Lock] waiting for %q", name, err)
		}

		t, err := m.enqueue(ctx, path)
		if err != nil {
			return err
		}

		if t.position < 0 {
			prometheusLocksRequeued.Inc()
			continue
		}

		if t.position == 0 {
			return m.acquired(ctx, path, t, start)
		}

		result, err := m.wait(ctx, path, t, deadline)
		if err != nil {
			return err
		}

		switch result {
		case waitGranted:
			return m.acquired(ctx, path, t, start)

		case waitRequeue:
			prometheusLocksRequeued.Inc()
			m.logger.Debugf("[Locks][Lock] ticket file %s was replaced, requeueing %q", path, name)

		case waitTimeout:
			prometheusLocksTimeouts.Inc()

			if !o.deleteLockOnTimeout {
				return errors.NewLockTimeoutError(path, "[Locks][Lock] timed out after %s waiting for %q at position %d, lock file %s", o.timeout, name, t.position, path)
			}

			m.logger.Warnf("[Locks][Lock] timed out after %s waiting for %q, clearing %s", o.timeout, name, path)

			if err = m.clear(ctx, path); err != nil {
				return err
			}

			prometheusLocksTakeovers.Inc()

			deadline = time.Now().Add(o.timeout)
		}
	}
}

// Unlock releases name. The lowest waiting ticket is let through, or the ticket file is removed
// when nobody waits. It returns false when there was nothing to release.
//
// After a lock of this manager was cleared and taken over by another caller of the same manager,
// the next Unlock of name is attributed to the superseded holder and releases nothing.
func (m *Manager) Unlock(name string) (bool, error) {
	path := m.Path(name)

	m.heldMu.Lock()
	if n := m.superseded[path]; n > 0 {
		if n == 1 {
			delete(m.superseded, path)
		} else {
			m.superseded[path] = n - 1
		}
		m.heldMu.Unlock()

		m.logger.Warnf("[Locks][Unlock] %q was taken over inside this process, not releasing", name)
		prometheusLocksReleased.WithLabelValues("lost").Inc()

		return false, nil
	}

	ticketID, mine := m.held[path]
	delete(m.held, path)
	m.heldMu.Unlock()

	if mine {
		owner, err := m.readHolder(context.Background(), path)
		if err != nil {
			return false, err
		}

		if owner != nil && owner.id != "" && owner.id != ticketID {
			// the lock was cleared and taken over by someone else while we held it
			m.logger.Warnf("[Locks][Unlock] %q is now held by ticket %s of %s/%d, not releasing", name, owner.id, owner.domain, owner.pid)
			prometheusLocksReleased.WithLabelValues("lost").Inc()

			return false, nil
		}
	}

	released, err := m.release(context.Background(), path)
	if err != nil {
		return false, err
	}

	if released {
		prometheusLocksReleased.WithLabelValues("released").Inc()
	} else {
		prometheusLocksReleased.WithLabelValues("noop").Inc()
	}

	return released, nil
}

// Close stops the reaper.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.observed.DeleteAll()
	})
}

func (m *Manager) acquired(ctx context.Context, path string, t ticket, start time.Time) error {
	content := fmt.Sprintf("%s %d\n", t.line(), t.position)

	if err := fsio.Run(ctx, m.logger, m.policy, "WriteHolder", func() error {
		return renameio.WriteFile(holderPath(path), []byte(content), 0o644)
	}); err != nil {
		_, _ = m.release(context.Background(), path)
		return errors.NewStorageError("[Locks][Lock] failed to record holder of %s", path, err)
	}

	m.heldMu.Lock()
	if prev, ok := m.held[path]; ok && prev != t.id {
		// an earlier holder of this manager was cleared by a takeover
		m.superseded[path]++
	}
	m.held[path] = t.id
	m.heldMu.Unlock()

	prometheusLocksAcquired.Inc()
	prometheusLocksWait.Observe(time.Since(start).Seconds())

	return nil
}

// enqueue appends a new ticket and returns it with its queue position, or position -1 when the
// ticket file was replaced before the ticket could be found in it.
func (m *Manager) enqueue(ctx context.Context, path string) (ticket, error) {
	t := ticket{domain: m.domain, pid: m.pid, id: uuid.NewString(), position: -1}
	line := t.line()

	if err := fsio.Run(ctx, m.logger, m.policy, "AppendTicket", func() error {
		return appendLine(path, line)
	}); err != nil {
		return t, errors.NewStorageError("[Locks][Lock] failed to append ticket to %s", path, err)
	}

	lines, err := m.readTicketLines(ctx, path)
	if err != nil {
		return t, err
	}

	for i, l := range lines {
		if l == line {
			t.position = i
			break
		}
	}

	return t, nil
}

// wait polls the marker of t until it is removed by the releasing party.
func (m *Manager) wait(ctx context.Context, path string, t ticket, deadline time.Time) (waitResult, error) {
	marker := markerPath(path, t.position)

	ok, err := m.createMarker(ctx, path, t)
	if err != nil || !ok {
		return waitRequeue, err
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time

	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()

		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return m.abandon(path, t, errors.NewContextCanceledError("[Locks][Lock] waiting on %s", path, ctx.Err()))

		case <-timeout:
			removed, err := m.removeOwnMarker(context.Background(), marker, t)
			if err != nil {
				return waitTimeout, err
			}

			if removed {
				return waitTimeout, nil
			}

			// the releaser removed the marker in the meantime
			state, err := m.inspect(context.Background(), path, t)
			if err != nil {
				return waitTimeout, err
			}

			if state == stateGranted {
				return waitGranted, nil
			}

			return waitTimeout, nil

		case <-ticker.C:
			state, err := m.inspect(ctx, path, t)
			if err != nil {
				if ctx.Err() != nil {
					return m.abandon(path, t, errors.NewContextCanceledError("[Locks][Lock] waiting on %s", path, ctx.Err()))
				}

				return waitRequeue, err
			}

			switch state {
			case stateGranted:
				return waitGranted, nil

			case stateGone:
				if _, err = m.removeOwnMarker(ctx, marker, t); err != nil {
					return waitRequeue, err
				}

				return waitRequeue, nil

			case stateDisplaced:
				m.logger.Debugf("[Locks][Lock] marker %s was displaced, recreating", marker)

				if ok, err = m.createMarker(ctx, path, t); err != nil || !ok {
					return waitRequeue, err
				}
			}
		}
	}
}

type waitState int

const (
	stateWaiting waitState = iota
	stateGranted
	// the ticket is no longer at its position in the ticket file
	stateGone
	// the marker is gone but another ticket holds the lock
	stateDisplaced
)

// inspect reports the state of a waiting ticket without changing anything.
func (m *Manager) inspect(ctx context.Context, path string, t ticket) (waitState, error) {
	lines, err := m.readTicketLines(ctx, path)
	if err != nil {
		return stateWaiting, err
	}

	if t.position >= len(lines) || lines[t.position] != t.line() {
		return stateGone, nil
	}

	exists, err := m.exists(ctx, markerPath(path, t.position))
	if err != nil {
		return stateWaiting, err
	}

	if exists {
		return stateWaiting, nil
	}

	// a releaser removes the holder before the marker, so a foreign holder means our marker was
	// removed as stale by a ticket of a newer generation of this file
	owner, err := m.readHolder(ctx, path)
	if err != nil {
		return stateWaiting, err
	}

	if owner != nil && owner.id != "" && owner.id != t.id {
		return stateDisplaced, nil
	}

	return stateGranted, nil
}

// abandon gives up a wait. If the lock was granted concurrently it is released again.
func (m *Manager) abandon(path string, t ticket, cause error) (waitResult, error) {
	ctx := context.Background()

	removed, err := m.removeOwnMarker(ctx, markerPath(path, t.position), t)
	if err != nil {
		m.logger.Warnf("[Locks][Lock] failed to remove marker of abandoned ticket on %s: %v", path, err)
		return waitRequeue, cause
	}

	if !removed {
		if state, _ := m.inspect(ctx, path, t); state == stateGranted {
			if _, err = m.release(ctx, path); err != nil {
				m.logger.Warnf("[Locks][Lock] failed to release lock granted to abandoned ticket on %s: %v", path, err)
			}
		}
	}

	return waitRequeue, cause
}

// createMarker atomically creates the marker of t. A marker already present at that position
// belongs to an older generation of the ticket file as long as t is still at its position.
func (m *Manager) createMarker(ctx context.Context, path string, t ticket) (bool, error) {
	marker := markerPath(path, t.position)
	tmp := marker + ".tmp-" + t.id
	content := []byte(t.line() + "\n")

	for attempt := 0; attempt < 3; attempt++ {
		err := fsio.Run(ctx, m.logger, m.policy, "CreateMarker", func() error {
			if err := os.WriteFile(tmp, content, 0o644); err != nil {
				return err
			}

			defer func() {
				_ = os.Remove(tmp)
			}()

			return os.Link(tmp, marker)
		})
		if err == nil {
			return true, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return false, errors.NewStorageError("[Locks][Lock] failed to create marker %s", marker, err)
		}

		lines, err := m.readTicketLines(ctx, path)
		if err != nil {
			return false, err
		}

		if t.position >= len(lines) || lines[t.position] != t.line() {
			return false, nil
		}

		m.logger.Debugf("[Locks][Lock] removing stale marker %s", marker)

		if _, err = m.remove(ctx, marker); err != nil {
			return false, err
		}
	}

	return false, nil
}

// removeOwnMarker removes marker when it still carries t. It returns false when the marker was
// gone or belongs to another ticket.
func (m *Manager) removeOwnMarker(ctx context.Context, marker string, t ticket) (bool, error) {
	data, err := m.readFile(ctx, marker)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	if strings.TrimSpace(string(data)) != t.line() {
		return false, nil
	}

	return m.remove(ctx, marker)
}

// release hands the lock of path to the lowest live waiter, or removes the ticket file. Markers
// that do not match the ticket at their position are stale and removed on the way.
func (m *Manager) release(ctx context.Context, path string) (bool, error) {
	removedHolder, err := m.remove(ctx, holderPath(path))
	if err != nil {
		return false, err
	}

	lines, err := m.readTicketLines(ctx, path)
	if err != nil {
		return false, err
	}

	markers, err := listMarkers(path)
	if err != nil {
		return false, errors.NewStorageError("[Locks][Unlock] failed to list markers of %s", path, err)
	}

	for _, mk := range markers {
		data, err := m.readFile(ctx, mk.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return false, err
		}

		live := mk.position < len(lines) && strings.TrimSpace(string(data)) == lines[mk.position]

		removed, err := m.remove(ctx, mk.path)
		if err != nil {
			return false, err
		}

		if live && removed {
			return true, nil
		}
	}

	removed, err := m.remove(ctx, path)
	if err != nil {
		return false, err
	}

	return removed || removedHolder, nil
}

// clear removes every file belonging to the lock at path.
func (m *Manager) clear(ctx context.Context, path string) error {
	if _, err := m.remove(ctx, holderPath(path)); err != nil {
		return err
	}

	markers, err := listMarkers(path)
	if err != nil {
		return errors.NewStorageError("[Locks][Lock] failed to list markers of %s", path, err)
	}

	for _, mk := range markers {
		if _, err = m.remove(ctx, mk.path); err != nil {
			return err
		}
	}

	_, err = m.remove(ctx, path)

	return err
}

type holder struct {
	ticket
}

func (m *Manager) readHolder(ctx context.Context, path string) (*holder, error) {
	data, err := m.readFile(ctx, holderPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	fields := strings.Fields(string(data))
	if len(fields) != 4 {
		return &holder{}, nil
	}

	t, ok := parseTicket(strings.Join(fields[:3], " "))
	if !ok {
		return &holder{}, nil
	}

	t.position, _ = strconv.Atoi(fields[3])

	return &holder{ticket: t}, nil
}

func (m *Manager) readTicketLines(ctx context.Context, path string) ([]string, error) {
	data, err := m.readFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return splitTicketLines(data), nil
}

func (m *Manager) readFile(ctx context.Context, path string) ([]byte, error) {
	data, err := fsio.Do(ctx, m.logger, m.policy, "ReadFile", func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewStorageError("[Locks] failed to read %s", path, err)
	}

	return data, err
}

func (m *Manager) exists(ctx context.Context, path string) (bool, error) {
	_, err := fsio.Do(ctx, m.logger, m.policy, "Stat", func() (os.FileInfo, error) {
		return os.Stat(path)
	})
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, errors.NewStorageError("[Locks] failed to stat %s", path, err)
}

// remove deletes path and reports whether it existed.
func (m *Manager) remove(ctx context.Context, path string) (bool, error) {
	err := fsio.Run(ctx, m.logger, m.policy, "Remove", func() error {
		return os.Remove(path)
	})
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, errors.NewStorageError("[Locks] failed to remove %s", path, err)
}

// appendLine writes line in a single O_APPEND write so concurrent appends never interleave.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if errors.Is(err, fs.ErrNotExist) {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	}

	if err != nil {
		return err
	}

	if _, err = f.Write([]byte(line + "\n")); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
