package cache

import (
	"context"
	"os"
	"testing"

	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReferenceCache(t *testing.T) *ReferenceCache {
	t.Helper()

	rc, err := NewReferenceCacheAt(ulogger.TestLogger{}, testSettings(), t.TempDir())
	require.NoError(t, err)

	t.Cleanup(rc.Close)

	return rc
}

func TestReferenceName(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"user 42 profile", "user"},
		{"  user\tsettings", "user"},
		{"single", "single"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ReferenceName(tt.key), tt.key)
	}
}

func TestReferences(t *testing.T) {
	ctx := context.Background()
	rc := newTestReferenceCache(t)

	require.NoError(t, rc.Put(ctx, "user 1", "one"))
	require.NoError(t, rc.Put(ctx, "user 2", "two"))
	require.NoError(t, rc.Put(ctx, "user 2", "two again"))
	require.NoError(t, rc.Put(ctx, "group 1", "other"))

	refs, err := rc.GetReferences(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"user 1", "user 2"}, refs)

	refs, err = rc.GetReferences(ctx, "user anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"user 1", "user 2"}, refs)

	children, err := GetChildren[string](ctx, rc, "user")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user 1": "one", "user 2": "two again"}, children)

	t.Run("remove drops the reference", func(t *testing.T) {
		removed, err := rc.Remove(ctx, "user 1")
		require.NoError(t, err)
		assert.True(t, removed)

		refs, err := rc.GetReferences(ctx, "user")
		require.NoError(t, err)
		assert.Equal(t, []string{"user 2"}, refs)
	})

	t.Run("last reference removes the index", func(t *testing.T) {
		require.NoError(t, rc.RemoveReference(ctx, "group 1"))
		assert.NoFileExists(t, rc.referencePath("group"))

		// the entry itself is untouched
		assert.True(t, contains(t, rc.Cache, "group 1"))
	})
}

func TestGetChildrenPrunesVanishedEntries(t *testing.T) {
	ctx := context.Background()
	rc := newTestReferenceCache(t)

	require.NoError(t, rc.Put(ctx, "doc a", 1))
	require.NoError(t, rc.Put(ctx, "doc b", 2))
	require.NoError(t, rc.Put(ctx, "doc c", 3))

	// entries disappear behind the index's back
	require.NoError(t, os.Remove(rc.Path("doc b")))
	require.NoError(t, os.WriteFile(rc.Path("doc c"), []byte{0x00}, 0o644))

	children, err := GetChildren[int](ctx, rc, "doc")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"doc a": 1}, children)

	refs, err := rc.GetReferences(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc a"}, refs)
}

func TestRemoveChildren(t *testing.T) {
	ctx := context.Background()
	rc := newTestReferenceCache(t)

	require.NoError(t, rc.Put(ctx, "session x", "1"))
	require.NoError(t, rc.Put(ctx, "session y", "2"))
	require.NoError(t, rc.Put(ctx, "keep me", "3"))

	removed, err := rc.RemoveChildren(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.False(t, contains(t, rc.Cache, "session x"))
	assert.False(t, contains(t, rc.Cache, "session y"))
	assert.True(t, contains(t, rc.Cache, "keep me"))

	refs, err := rc.GetReferences(ctx, "session")
	require.NoError(t, err)
	assert.Empty(t, refs)

	removed, err = rc.RemoveChildren(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
