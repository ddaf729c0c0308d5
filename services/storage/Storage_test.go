package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Interface = (*Storage)(nil)

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()

	dir := t.TempDir()

	tSettings := settings.NewSettings()
	tSettings.DataFolder = dir
	tSettings.Lock.Folder = dir
	tSettings.Lock.ReapInterval = 0
	tSettings.Lock.PollInterval = 10 * time.Millisecond
	tSettings.Lock.DefaultTimeout = 10 * time.Second
	tSettings.Cache.Folder = filepath.Join(dir, "cache")
	tSettings.Storage.Folder = filepath.Join(dir, "blocks")

	storeURL, err := url.Parse("sqlitememory:///storage")
	require.NoError(t, err)

	tSettings.Storage.MetaStoreURL = storeURL

	return tSettings
}

func newTestStorage(t *testing.T, blockSize int) *Storage {
	t.Helper()

	s, err := New(ulogger.TestLogger{}, testSettings(t), blocks.WithBlockSize(blockSize))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func blockFiles(t *testing.T, s *Storage) int {
	t.Helper()

	count := 0

	require.NoError(t, filepath.WalkDir(s.Blocks().Root(), func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			count++
		}

		return nil
	}))

	return count
}

func readAll(t *testing.T, s *Storage, ref string) []byte {
	t.Helper()

	_, f, err := s.Read(context.Background(), ref)
	require.NoError(t, err)

	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)

	return data
}

func TestSaveDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, 4)

	payload := []byte("hello, dedup world")

	first, err := s.Save(ctx, blocks.Bytes(payload), "app", "user-1", WithFilename("a.txt"), WithTitle("A"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", first.Filename)
	assert.Equal(t, "A", first.Title)
	assert.Equal(t, int64(len(payload)), first.Size)
	assert.Equal(t, "text/plain; charset=utf-8", first.Mimetype)

	files := blockFiles(t, s)
	assert.Equal(t, 5, files)

	second, err := s.Save(ctx, blocks.Stream{ReadSeeker: bytes.NewReader(payload)}, "app", "user-2")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, first.FilePathID, second.FilePathID)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, files, blockFiles(t, s))
}

func TestRoundTrip(t *testing.T) {
	payload := []byte("0123456789")

	for _, blockSize := range []int{3, len(payload), 64} {
		t.Run(strconv.Itoa(blockSize), func(t *testing.T) {
			ctx := context.Background()
			s := newTestStorage(t, blockSize)

			file, err := s.Save(ctx, blocks.Bytes(payload), "app", "k")
			require.NoError(t, err)

			assert.Equal(t, payload, readAll(t, s, strconv.FormatInt(file.ID, 10)))
			assert.Equal(t, payload, readAll(t, s, file.Key))
		})
	}
}

func TestSaveEmptyPayload(t *testing.T) {
	s := newTestStorage(t, 4)

	_, err := s.Save(context.Background(), blocks.Bytes(nil), "app", "k")
	require.True(t, errors.Is(err, errors.ErrEmptyPayload))
}

func TestReadUnknownFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, 4)

	_, _, err := s.Read(ctx, "42")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, _, err = s.Read(ctx, "no-such-key")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, _, err = s.Read(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestDeleteIsReferenceCounted(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, 4)

	a, err := s.Save(ctx, blocks.Bytes("shared content"), "app", "a")
	require.NoError(t, err)

	b, err := s.Save(ctx, blocks.Bytes("shared content"), "app", "b")
	require.NoError(t, err)

	// shares its first block with the other content
	c, err := s.Save(ctx, blocks.Bytes("shar"), "app", "c")
	require.NoError(t, err)

	files := blockFiles(t, s)
	assert.Equal(t, 4, files)

	deleted, err := s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, files, blockFiles(t, s))
	assert.Equal(t, []byte("shared content"), readAll(t, s, b.Key))

	_, _, err = s.Read(ctx, a.Key)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	deleted, err = s.Delete(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, blockFiles(t, s))
	assert.Equal(t, []byte("shar"), readAll(t, s, c.Key))

	deleted, err = s.Delete(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Zero(t, blockFiles(t, s))

	// all locks were released
	for _, f := range []*meta.File{a, b, c} {
		assert.NoFileExists(t, s.Locks().Path(ContentLockName(f.Code)))
	}
}

func TestConcurrentSavesOfSameContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, 4)

	payload := []byte("the same bytes, saved concurrently")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved []*meta.File
	)

	for i := 0; i < 6; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			file, err := s.Save(ctx, blocks.Bytes(payload), "app", strconv.Itoa(i))
			assert.NoError(t, err)

			mu.Lock()
			saved = append(saved, file)
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	require.Len(t, saved, 6)

	for _, file := range saved {
		require.NotNil(t, file)
		assert.Equal(t, saved[0].FilePathID, file.FilePathID)
	}

	sc, err := s.Blocks().Scan(ctx, blocks.Bytes(payload))
	require.NoError(t, err)
	assert.Equal(t, len(sc.DistinctCodes()), blockFiles(t, s))
}

func TestLocksAndCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, 4)

	require.NoError(t, s.Lock(ctx, "job", locks.WithTimeout(time.Second)))

	err := s.Lock(ctx, "job", locks.WithTimeout(200*time.Millisecond))
	require.True(t, errors.Is(err, errors.ErrLockTimeout))

	released, err := s.Unlock("job")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = s.Unlock("job")
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, s.Cache().Put(ctx, "user 1", "value"))

	refs, err := s.Cache().GetReferences(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"user 1"}, refs)
}

func TestHealth(t *testing.T) {
	s := newTestStorage(t, 4)

	status, msg, err := s.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Contains(t, msg, "MetaStore")
	assert.Contains(t, msg, "BlockStore")
}
