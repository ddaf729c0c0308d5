package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/fsio"
)

// ReferenceCache is a Cache that also indexes every key under its reference name, the first
// whitespace delimited token of the key, so that a group of entries can be fetched or removed
// together. The index of a reference name lives at <root>/references/<h[0]>/<h>.
//
// Index updates replace the index file atomically. Concurrent updates of the same index may lose
// a key but never corrupt the index; entries missing from the index are only unreachable as a
// group, and index keys without entry are pruned when the group is read.
type ReferenceCache struct {
	*Cache
}

func NewReferenceCache(logger ulogger.Logger, tSettings *settings.Settings) (*ReferenceCache, error) {
	return NewReferenceCacheAt(logger, tSettings, tSettings.Cache.Folder)
}

func NewReferenceCacheAt(logger ulogger.Logger, tSettings *settings.Settings, root string) (*ReferenceCache, error) {
	c, err := NewAt(logger, tSettings, root)
	if err != nil {
		return nil, err
	}

	rc := &ReferenceCache{Cache: c}
	c.removeReference = rc.RemoveReference

	return rc, nil
}

// ReferenceName returns the group a key belongs to.
func ReferenceName(key string) string {
	fields := strings.Fields(key)
	if len(fields) == 0 {
		return key
	}

	return fields[0]
}

func (rc *ReferenceCache) referencePath(name string) string {
	return hashedPath(filepath.Join(rc.root, "references"), ReferenceName(name))
}

// Put stores value under key and records key in the index of its reference name.
func (rc *ReferenceCache) Put(ctx context.Context, key string, value interface{}) error {
	if err := rc.Cache.Put(ctx, key, value); err != nil {
		return err
	}

	return rc.PutReference(ctx, key)
}

// PutReference records key in the index of its reference name.
func (rc *ReferenceCache) PutReference(ctx context.Context, key string) error {
	path := rc.referencePath(key)

	keys, err := rc.readIndex(ctx, path)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k == key {
			return nil
		}
	}

	return rc.writeIndex(ctx, path, append(keys, key))
}

// RemoveReference drops key from the index of its reference name. The index file is removed with
// its last key.
func (rc *ReferenceCache) RemoveReference(ctx context.Context, key string) error {
	path := rc.referencePath(key)

	keys, err := rc.readIndex(ctx, path)
	if err != nil {
		return err
	}

	remaining := keys[:0]

	for _, k := range keys {
		if k != key {
			remaining = append(remaining, k)
		}
	}

	if len(remaining) == len(keys) {
		return nil
	}

	return rc.writeIndex(ctx, path, remaining)
}

// GetReferences returns all keys indexed under the reference name of name.
func (rc *ReferenceCache) GetReferences(ctx context.Context, name string) ([]string, error) {
	return rc.readIndex(ctx, rc.referencePath(name))
}

// GetChildren returns the values of all live entries indexed under the reference name of name.
// Keys whose entry is gone or expired are pruned from the index.
func GetChildren[T any](ctx context.Context, rc *ReferenceCache, name string, opts ...GetOption) (map[string]T, error) {
	path := rc.referencePath(name)

	keys, err := rc.readIndex(ctx, path)
	if err != nil {
		return nil, err
	}

	children := make(map[string]T, len(keys))
	live := make([]string, 0, len(keys))

	for _, key := range keys {
		var value T

		found, err := rc.Get(ctx, key, &value, opts...)
		if err != nil && !errors.Is(err, errors.ErrCorruptedCacheEntry) {
			return nil, err
		}

		if !found {
			continue
		}

		children[key] = value
		live = append(live, key)
	}

	if len(live) != len(keys) {
		rc.logger.Debugf("[Cache][GetChildren] pruning %d stale keys of %q", len(keys)-len(live), ReferenceName(name))

		if err = rc.writeIndex(ctx, path, live); err != nil {
			return nil, err
		}
	}

	return children, nil
}

// RemoveChildren removes every entry indexed under the reference name of name, and the index.
func (rc *ReferenceCache) RemoveChildren(ctx context.Context, name string) (int, error) {
	path := rc.referencePath(name)

	keys, err := rc.readIndex(ctx, path)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, key := range keys {
		entry := rc.Path(key)

		existed, err := rc.exists(ctx, entry)
		if err != nil {
			return removed, err
		}

		if existed {
			removed++
		}

		if err = rc.removeFile(ctx, entry); err != nil {
			return removed, err
		}
	}

	if err = rc.removeFile(ctx, path); err != nil {
		return removed, err
	}

	prometheusCacheRemove.Add(float64(removed))

	return removed, nil
}

func (rc *ReferenceCache) readIndex(ctx context.Context, path string) ([]string, error) {
	data, err := fsio.Do(ctx, rc.logger, rc.policy, "ReadIndex", func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.NewStorageError("[Cache] failed to read reference index %s", path, err)
	}

	var keys []string

	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			keys = append(keys, line)
		}
	}

	return keys, nil
}

func (rc *ReferenceCache) writeIndex(ctx context.Context, path string, keys []string) error {
	if len(keys) == 0 {
		return rc.removeFile(ctx, path)
	}

	data := []byte(strings.Join(keys, "\n") + "\n")

	if err := writeFileAtomic(ctx, rc.logger, rc.policy, path, data); err != nil {
		return errors.NewStorageError("[Cache] failed to write reference index %s", path, err)
	}

	return nil
}
