package locks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deadPID = 999999

func deadProbe(pid int) bool {
	return pid != deadPID
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
}

func TestReapDeadHolder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	crashed := newTestManager(t, dir, WithDomain("test-host"), WithPID(deadPID))
	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))

	require.NoError(t, crashed.Lock(ctx, "orphaned"))

	path := reaper.Path("orphaned")
	require.True(t, fileExists(holderPath(path)))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.DeadHolders)
	assert.False(t, fileExists(path))
	assert.False(t, fileExists(holderPath(path)))

	// the resource is usable again
	require.NoError(t, reaper.Lock(ctx, "orphaned", WithTimeout(time.Second)))

	released, err := reaper.Unlock("orphaned")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReapDeadHolderHandsOverToWaiter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	crashed := newTestManager(t, dir, WithDomain("test-host"), WithPID(deadPID))
	waiter := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))

	require.NoError(t, crashed.Lock(ctx, "handover"))

	path := waiter.Path("handover")
	done := make(chan error, 1)

	go func() {
		done <- waiter.Lock(ctx, "handover", WithTimeout(5*time.Second))
	}()

	require.Eventually(t, func() bool {
		return fileExists(markerPath(path, 1))
	}, 5*time.Second, 5*time.Millisecond)

	report, err := waiter.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadHolders)
	assert.Equal(t, 0, report.DeadWaiters)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not let through")
	}

	released, err := waiter.Unlock("handover")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReapIgnoresOtherDomains(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	remote := newTestManager(t, dir, WithDomain("other-host"), WithPID(deadPID))
	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))

	require.NoError(t, remote.Lock(ctx, "remote"))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeadHolders)
	assert.True(t, fileExists(holderPath(reaper.Path("remote"))))
}

func TestReapDeadWaiter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))

	require.NoError(t, reaper.Lock(ctx, "waiters"))

	path := reaper.Path("waiters")
	dead := ticket{domain: "test-host", pid: deadPID, id: "dead-ticket"}

	require.NoError(t, appendLine(path, dead.line()))
	require.NoError(t, os.WriteFile(markerPath(path, 1), []byte(dead.line()+"\n"), 0o644))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadWaiters)
	assert.Equal(t, 0, report.DeadHolders)
	assert.False(t, fileExists(markerPath(path, 1)))

	// nobody is left to hand over to
	released, err := reaper.Unlock("waiters")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, fileExists(path))
}

func TestReapStaleList(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))
	path := reaper.Path("stale-list")

	// a ticket that was granted but never recorded a holder
	require.NoError(t, appendLine(path, "test-host 1 granted-but-gone"))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.StaleLists)
	assert.True(t, fileExists(path))

	time.Sleep(100 * time.Millisecond)

	report, err = reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StaleLists)
	assert.False(t, fileExists(path))
	assert.False(t, fileExists(holderPath(path)))
}

func TestReapStaleListResetsOnChange(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))
	path := reaper.Path("busy-list")

	require.NoError(t, appendLine(path, "test-host 1 first"))

	_, err := reaper.Reap(ctx)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, appendLine(path, "test-host 1 second"))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.StaleLists)
	assert.True(t, fileExists(path))
}

func TestReapOrphans(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe))

	shard := filepath.Join(reaper.Root(), "b")
	require.NoError(t, os.MkdirAll(shard, 0o755))

	orphan := filepath.Join(shard, strings.Repeat("b", 64)+holderSuffix)
	fresh := filepath.Join(shard, strings.Repeat("b", 63)+"c.1")

	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	report, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	assert.False(t, fileExists(orphan))
	assert.True(t, fileExists(fresh))
}

func TestReaperLoop(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	crashed := newTestManager(t, dir, WithDomain("test-host"), WithPID(deadPID))
	require.NoError(t, crashed.Lock(ctx, "background"))

	reaper := newTestManager(t, dir, WithDomain("test-host"), WithProcessProbe(deadProbe), WithReapInterval(20*time.Millisecond))
	path := reaper.Path("background")

	require.Eventually(t, func() bool {
		return !fileExists(path)
	}, 5*time.Second, 10*time.Millisecond)
}
