package locks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, dir string, opts ...Option) *Manager {
	t.Helper()

	tSettings := settings.NewSettings()
	tSettings.Lock.PollInterval = 10 * time.Millisecond
	tSettings.Lock.DefaultTimeout = 0
	tSettings.Lock.ReapInterval = 0
	tSettings.Lock.StaleAfter = 50 * time.Millisecond

	m, err := NewAt(ulogger.TestLogger{}, tSettings, dir, opts...)
	require.NoError(t, err)

	t.Cleanup(m.Close)

	return m
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	p := m.Path("resource")
	h := filepath.Base(p)

	require.Len(t, h, 64)
	assert.Equal(t, filepath.Join(dir, "locks", h[:1], h), p)
	assert.Equal(t, p, m.Path("resource"))
	assert.NotEqual(t, p, m.Path("resource2"))
}

func TestLockUnlock(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()
	path := m.Path("resource")

	require.NoError(t, m.Lock(ctx, "resource"))
	assert.True(t, fileExists(path))
	assert.True(t, fileExists(holderPath(path)))

	released, err := m.Unlock("resource")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(path))
	assert.False(t, fileExists(holderPath(path)))

	t.Run("unlock of a clear resource is a no-op", func(t *testing.T) {
		released, err := m.Unlock("resource")
		require.NoError(t, err)
		assert.False(t, released)

		released, err = m.Unlock("never-locked")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("relock after unlock", func(t *testing.T) {
		require.NoError(t, m.Lock(ctx, "resource", WithTimeout(time.Second)))

		released, err := m.Unlock("resource")
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func TestMutualExclusionFIFO(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()
	path := m.Path("shared")

	const waiters = 8

	require.NoError(t, m.Lock(ctx, "shared"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		order   []int
		inside  atomic.Int32
		overlap atomic.Bool
	)

	for i := 0; i < waiters; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if err := m.Lock(ctx, "shared"); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}

			if inside.Add(1) != 1 {
				overlap.Store(true)
			}

			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)

			if _, err := m.Unlock("shared"); err != nil {
				t.Errorf("waiter %d unlock: %v", i, err)
			}
		}(i)

		// waiter i queues at position i+1 behind the holder
		require.Eventually(t, func() bool {
			return fileExists(markerPath(path, i+1))
		}, 5*time.Second, 5*time.Millisecond)
	}

	released, err := m.Unlock("shared")
	require.NoError(t, err)
	require.True(t, released)

	wg.Wait()

	assert.False(t, overlap.Load(), "two callers held the lock at the same time")

	expected := make([]int, waiters)
	for i := range expected {
		expected[i] = i
	}

	assert.Equal(t, expected, order)
	assert.False(t, fileExists(path))
}

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	holderManager := newTestManager(t, dir)
	waiterManager := newTestManager(t, dir)
	ctx := context.Background()

	require.NoError(t, holderManager.Lock(ctx, "busy"))

	start := time.Now()
	err := waiterManager.Lock(ctx, "busy", WithTimeout(time.Second))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.LessOrEqual(t, elapsed, 1500*time.Millisecond)

	lockPath, ok := errors.LockPath(err)
	require.True(t, ok)
	assert.Equal(t, holderManager.Path("busy"), lockPath)
	assert.Contains(t, err.Error(), lockPath)

	// the timed out waiter cleaned up its marker, so the holder's unlock frees the resource
	assert.False(t, fileExists(markerPath(lockPath, 1)))

	released, err := holderManager.Unlock("busy")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(lockPath))
}

func TestDeleteLockOnTimeout(t *testing.T) {
	dir := t.TempDir()
	stuck := newTestManager(t, dir)
	taker := newTestManager(t, dir)
	ctx := context.Background()

	require.NoError(t, stuck.Lock(ctx, "wedged"))

	err := taker.Lock(ctx, "wedged", WithTimeout(100*time.Millisecond), WithDeleteLockOnTimeout())
	require.NoError(t, err)

	owner, err := taker.readHolder(ctx, taker.Path("wedged"))
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, taker.held[taker.Path("wedged")], owner.id)

	// the previous holder lost the lock and must not release it for the new holder
	released, err := stuck.Unlock("wedged")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, fileExists(holderPath(taker.Path("wedged"))))

	released, err = taker.Unlock("wedged")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestDeleteLockOnTimeoutSameManager(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()
	path := m.Path("wedged")

	require.NoError(t, m.Lock(ctx, "wedged"))
	require.NoError(t, m.Lock(ctx, "wedged", WithTimeout(50*time.Millisecond), WithDeleteLockOnTimeout()))

	owner, err := m.readHolder(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, m.held[path], owner.id)

	// the superseded holder unlocks first and must leave the new holder alone
	released, err := m.Unlock("wedged")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, fileExists(holderPath(path)))

	// the lock is still exclusive
	err = m.Lock(ctx, "wedged", WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockTimeout))

	released, err = m.Unlock("wedged")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(holderPath(path)))
}

func TestLockCancellation(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	path := m.Path("cancel")

	require.NoError(t, m.Lock(context.Background(), "cancel"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- m.Lock(ctx, "cancel")
	}()

	require.Eventually(t, func() bool {
		return fileExists(markerPath(path, 1))
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("lock did not return after cancel")
	}

	assert.False(t, fileExists(markerPath(path, 1)))

	released, err := m.Unlock("cancel")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(path))
}

func TestUnlockSkipsStaleMarkers(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()
	path := m.Path("stale")

	require.NoError(t, m.Lock(ctx, "stale"))

	// a marker left behind by an older generation of the ticket file
	require.NoError(t, os.WriteFile(markerPath(path, 3), []byte("gone-host 1 old-ticket\n"), 0o644))

	released, err := m.Unlock("stale")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(markerPath(path, 3)))
	assert.False(t, fileExists(path))
}

func TestWaiterRequeuesWhenTicketFileReplaced(t *testing.T) {
	dir := t.TempDir()
	holderManager := newTestManager(t, dir)
	waiterManager := newTestManager(t, dir)
	path := holderManager.Path("replaced")

	require.NoError(t, holderManager.Lock(context.Background(), "replaced"))

	done := make(chan error, 1)

	go func() {
		done <- waiterManager.Lock(context.Background(), "replaced", WithTimeout(5*time.Second))
	}()

	require.Eventually(t, func() bool {
		return fileExists(markerPath(path, 1))
	}, 5*time.Second, 5*time.Millisecond)

	// an operator wipes the ticket file, leaving the marker behind
	require.NoError(t, os.Remove(holderPath(path)))
	require.NoError(t, os.Remove(path))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not requeue")
	}

	assert.False(t, fileExists(markerPath(path, 1)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, splitTicketLines(data), 1)

	released, err := waiterManager.Unlock("replaced")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestTicketFormat(t *testing.T) {
	tk := ticket{domain: "host", pid: 42, id: "abc"}
	assert.Equal(t, "host 42 abc", tk.line())

	parsed, ok := parseTicket(tk.line())
	require.True(t, ok)
	assert.Equal(t, "host", parsed.domain)
	assert.Equal(t, 42, parsed.pid)
	assert.Equal(t, "abc", parsed.id)

	_, ok = parseTicket("host notapid abc")
	assert.False(t, ok)

	_, ok = parseTicket("too few")
	assert.False(t, ok)

	lines := splitTicketLines([]byte("a 1 x\nb 2 y\nc 3"))
	assert.Equal(t, []string{"a 1 x", "b 2 y"}, lines)
	assert.Nil(t, splitTicketLines([]byte("partial")))
}

func TestListMarkers(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, strings.Repeat("a", 64))

	for _, suffix := range []string{".10", ".2", ".holder", ".3.tmp-x", ".1"} {
		require.NoError(t, os.WriteFile(base+suffix, nil, 0o644))
	}

	markers, err := listMarkers(base)
	require.NoError(t, err)

	positions := make([]string, 0, len(markers))
	for _, mk := range markers {
		positions = append(positions, fmt.Sprint(mk.position))
	}

	assert.Equal(t, []string{"1", "2", "10"}, positions)

	markers, err = listMarkers(filepath.Join(dir, "missing", "x"))
	require.NoError(t, err)
	assert.Empty(t, markers)
}
