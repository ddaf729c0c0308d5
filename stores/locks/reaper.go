package locks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sys/unix"
)

// observation is what the reaper remembers about a waiting list without holder.
type observation struct {
	fingerprint string
	since       time.Time
}

// ReapReport summarizes a reaper pass.
type ReapReport struct {
	Scanned     int `json:"scanned"`
	DeadHolders int `json:"dead_holders"`
	DeadWaiters int `json:"dead_waiters"`
	StaleLists  int `json:"stale_lists"`
	Orphans     int `json:"orphans"`
}

func (r ReapReport) Reclaimed() int {
	return r.DeadHolders + r.DeadWaiters + r.StaleLists + r.Orphans
}

// processAlive checks pid with signal 0. EPERM means the process exists but belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

func (m *Manager) reapLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.Reap(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				m.logger.Warnf("[Locks][Reaper] pass failed: %v", err)

				continue
			}

			if report.Reclaimed() > 0 {
				m.logger.Infof("[Locks][Reaper] scanned %d locks, released %d dead holders and %d stale lists, removed %d dead waiters and %d orphans",
					report.Scanned, report.DeadHolders, report.StaleLists, report.DeadWaiters, report.Orphans)
			}
		}
	}
}

// Reap makes a single pass over all ticket files. Locks held by dead processes of this domain
// are released, markers of dead waiters removed, and waiting lists without holder that did not
// change for the stale period are released on their behalf.
func (m *Manager) Reap(ctx context.Context) (ReapReport, error) {
	var report ReapReport

	m.observed.DeleteExpired()

	shards, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}

		return report, errors.NewStorageError("[Locks][Reaper] failed to read %s", m.root, err)
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}

		if err = ctx.Err(); err != nil {
			return report, err
		}

		if err = m.reapDir(ctx, filepath.Join(m.root, shard.Name()), &report); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (m *Manager) reapDir(ctx context.Context, dir string, report *ReapReport) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return errors.NewStorageError("[Locks][Reaper] failed to read %s", dir, err)
	}

	tickets := make(map[string]struct{})

	for _, entry := range entries {
		if isTicketFile(entry.Name()) {
			tickets[entry.Name()] = struct{}{}
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		if isTicketFile(name) {
			continue
		}

		base, _, _ := strings.Cut(name, ".")
		if _, ok := tickets[base]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) < m.staleAfter {
			continue
		}

		removed, err := m.remove(ctx, filepath.Join(dir, name))
		if err != nil {
			return err
		}

		if removed {
			report.Orphans++
			prometheusLocksReaped.WithLabelValues("orphan").Inc()
		}
	}

	for base := range tickets {
		report.Scanned++

		if err = m.reapLock(ctx, filepath.Join(dir, base), report); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) reapLock(ctx context.Context, path string, report *ReapReport) error {
	owner, err := m.readHolder(ctx, path)
	if err != nil {
		return err
	}

	if owner != nil {
		m.observed.Delete(path)

		if owner.id != "" && owner.domain == m.domain && !m.alive(owner.pid) {
			released, err := m.releaseDeadHolder(ctx, path, owner)
			if err != nil {
				return err
			}

			if released {
				report.DeadHolders++
				prometheusLocksReaped.WithLabelValues("holder").Inc()
			}

			return nil
		}

		return m.reapWaiters(ctx, path, report)
	}

	if err = m.reapWaiters(ctx, path, report); err != nil {
		return err
	}

	fingerprint, err := m.fingerprint(ctx, path)
	if err != nil {
		return err
	}

	if fingerprint == "" {
		m.observed.Delete(path)
		return nil
	}

	item := m.observed.Get(path)
	if item == nil || item.Value().fingerprint != fingerprint {
		m.observed.Set(path, observation{fingerprint: fingerprint, since: time.Now()}, ttlcache.DefaultTTL)
		return nil
	}

	if time.Since(item.Value().since) < m.staleAfter {
		return nil
	}

	m.observed.Delete(path)

	released, err := m.releaseStaleList(ctx, path)
	if err != nil {
		return err
	}

	if released {
		report.StaleLists++
		prometheusLocksReaped.WithLabelValues("stale").Inc()
	}

	return nil
}

// releaseDeadHolder claims the holder record by renaming it, so only one reaper releases.
func (m *Manager) releaseDeadHolder(ctx context.Context, path string, owner *holder) (bool, error) {
	claim := holderPath(path) + ".reap-" + uuid.NewString()

	if err := os.Rename(holderPath(path), claim); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, errors.NewStorageError("[Locks][Reaper] failed to claim holder of %s", path, err)
	}

	defer func() {
		_ = os.Remove(claim)
	}()

	m.logger.Warnf("[Locks][Reaper] holder %s/%d of %s is gone, releasing", owner.domain, owner.pid, path)

	_, err := m.release(ctx, path)

	return err == nil, err
}

// releaseStaleList claims the vacant holder record by linking it into place, so only one reaper
// releases.
func (m *Manager) releaseStaleList(ctx context.Context, path string) (bool, error) {
	claim := holderPath(path) + ".reap-" + uuid.NewString()

	if err := os.WriteFile(claim, []byte("reaper "+m.domain+"\n"), 0o644); err != nil {
		return false, errors.NewStorageError("[Locks][Reaper] failed to write claim for %s", path, err)
	}

	defer func() {
		_ = os.Remove(claim)
	}()

	if err := os.Link(claim, holderPath(path)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}

		return false, errors.NewStorageError("[Locks][Reaper] failed to claim %s", path, err)
	}

	m.logger.Warnf("[Locks][Reaper] %s had no holder for %s, releasing", path, m.staleAfter)

	_, err := m.release(ctx, path)

	return err == nil, err
}

func (m *Manager) reapWaiters(ctx context.Context, path string, report *ReapReport) error {
	markers, err := listMarkers(path)
	if err != nil {
		return errors.NewStorageError("[Locks][Reaper] failed to list markers of %s", path, err)
	}

	for _, mk := range markers {
		data, err := m.readFile(ctx, mk.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return err
		}

		t, ok := parseTicket(strings.TrimSpace(string(data)))
		if !ok || t.domain != m.domain || m.alive(t.pid) {
			continue
		}

		removed, err := m.removeOwnMarker(ctx, mk.path, t)
		if err != nil {
			return err
		}

		if removed {
			m.logger.Infof("[Locks][Reaper] removed marker %s of dead waiter %d", mk.path, t.pid)

			report.DeadWaiters++
			prometheusLocksReaped.WithLabelValues("waiter").Inc()
		}
	}

	return nil
}

// fingerprint hashes the ticket file and its markers. It is empty when the ticket file is gone.
func (m *Manager) fingerprint(ctx context.Context, path string) (string, error) {
	data, err := m.readFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}

		return "", err
	}

	h := sha256.New()
	h.Write(data)

	markers, err := listMarkers(path)
	if err != nil {
		return "", errors.NewStorageError("[Locks][Reaper] failed to list markers of %s", path, err)
	}

	for _, mk := range markers {
		content, err := m.readFile(ctx, mk.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		h.Write([]byte(filepath.Base(mk.path)))
		h.Write(content)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
