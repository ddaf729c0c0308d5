package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
	Tags  []string
}

func testSettings() *settings.Settings {
	tSettings := settings.NewSettings()
	tSettings.Lock.ReapInterval = 0
	tSettings.Lock.PollInterval = 10 * time.Millisecond
	tSettings.Cache.DefaultExpire = 0

	return tSettings
}

func newTestCache(t *testing.T, tSettings *settings.Settings) *Cache {
	t.Helper()

	c, err := NewAt(ulogger.TestLogger{}, tSettings, t.TempDir())
	require.NoError(t, err)

	t.Cleanup(c.Close)

	return c
}

func contains(t *testing.T, c *Cache, key string) bool {
	t.Helper()

	ok, err := c.Contains(context.Background(), key)
	require.NoError(t, err)

	return ok
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	in := record{Name: "alpha", Count: 3, Tags: []string{"a", "b"}}
	require.NoError(t, c.Put(ctx, "alpha", in))

	h := filepath.Base(c.Path("alpha"))
	assert.Equal(t, filepath.Join(c.root, h[:1], h), c.Path("alpha"))
	assert.FileExists(t, c.Path("alpha"))

	var out record

	found, err := c.Get(ctx, "alpha", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)

	found, err = c.Get(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	value, err := GetOr(ctx, c, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	require.NoError(t, c.Put(ctx, "alpha", record{Name: "beta"}))

	out = record{}
	found, err = c.Get(ctx, "alpha", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "beta", out.Name)
}

func TestCompression(t *testing.T) {
	ctx := context.Background()

	tSettings := testSettings()
	tSettings.Cache.Compress = true
	tSettings.Cache.CompressThreshold = 64

	c := newTestCache(t, tSettings)

	large := strings.Repeat("compressible ", 1000)
	require.NoError(t, c.Put(ctx, "large", large))
	require.NoError(t, c.Put(ctx, "small", "tiny"))

	data, err := os.ReadFile(c.Path("large"))
	require.NoError(t, err)
	assert.Equal(t, formatMsgpackZstd, data[0])
	assert.Less(t, len(data), len(large))

	data, err = os.ReadFile(c.Path("small"))
	require.NoError(t, err)
	assert.Equal(t, formatMsgpack, data[0])

	value, err := GetOr(ctx, c, "large", "")
	require.NoError(t, err)
	assert.Equal(t, large, value)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	require.NoError(t, c.Put(ctx, "short-lived", 42))

	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(c.Path("short-lived"), old, old))

	// no expiry configured, the entry is still there
	value, err := GetOr(ctx, c, "short-lived", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	value, err = GetOr(ctx, c, "short-lived", -1, WithExpire(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, -1, value)

	assert.False(t, contains(t, c, "short-lived"))
	assert.NoFileExists(t, c.Path("short-lived"))
}

func TestExpiryAfterWaiting(t *testing.T) {
	ctx := context.Background()

	tSettings := testSettings()
	tSettings.Cache.DefaultExpire = 200 * time.Millisecond

	c := newTestCache(t, tSettings)

	require.NoError(t, c.Put(ctx, "k", "v"))
	assert.True(t, contains(t, c, "k"))

	time.Sleep(300 * time.Millisecond)

	value, err := GetOr(ctx, c, "k", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", value)
	assert.False(t, contains(t, c, "k"))
}

func TestCorruptedEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"unknown format", []byte{0x7f, 0x01, 0x02}},
		{"truncated msgpack", []byte{formatMsgpack, 0xdb, 0x00, 0x00, 0x10}},
		{"bad zstd", []byte{formatMsgpackZstd, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "corrupt-" + tt.name
			require.NoError(t, c.Put(ctx, key, "valid"))
			require.NoError(t, os.WriteFile(c.Path(key), tt.data, 0o644))

			var out string

			found, err := c.Get(ctx, key, &out)
			require.Error(t, err)
			assert.False(t, found)
			assert.True(t, errors.Is(err, errors.ErrCorruptedCacheEntry))
			assert.NoFileExists(t, c.Path(key))
		})
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	var hooked []string

	c.removeReference = func(_ context.Context, key string) error {
		hooked = append(hooked, key)
		return nil
	}

	require.NoError(t, c.Put(ctx, "gone", "soon"))

	removed, err := c.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, contains(t, c, "gone"))

	removed, err = c.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{"gone", "gone"}, hooked)
}

func TestCacheLocks(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	require.NoError(t, c.Locks().Lock(ctx, "counter"))
	assert.True(t, strings.HasPrefix(c.Locks().Path("counter"), filepath.Join(c.root, "locks")))

	released, err := c.Locks().Unlock("counter")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestStatErrorsAreReported(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testSettings())

	// a file where the shard directory of the key belongs makes stat fail with ENOTDIR
	shard := filepath.Dir(c.Path("blocked"))
	require.NoError(t, os.MkdirAll(filepath.Dir(shard), 0o755))
	require.NoError(t, os.WriteFile(shard, []byte("x"), 0o644))

	ok, err := c.Contains(ctx, "blocked")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, errors.ErrStorageError))

	removed, err := c.Remove(ctx, "blocked")
	require.Error(t, err)
	assert.False(t, removed)

	ok, err = c.Contains(ctx, "never written")
	require.NoError(t, err)
	assert.False(t, ok)
}
