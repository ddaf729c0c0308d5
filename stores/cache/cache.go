// Package cache is a persistent key/value store on plain files with optional expiry.
//
// An entry lives at <root>/<h[0]>/<h>, h being the sha256 of its key. Entries are written
// atomically and never locked; the last writer wins. The modification time of the entry file is
// its age.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/fsio"
	"github.com/google/renameio"
)

type Cache struct {
	logger ulogger.Logger
	root   string
	expire time.Duration
	policy *fsio.Policy
	codec  *codec
	locks  *locks.Manager

	// removeReference is called after an entry was removed
	removeReference func(ctx context.Context, key string) error
}

type getOptions struct {
	expire time.Duration
}

// GetOption configures a single Get call.
type GetOption func(*getOptions)

// WithExpire overrides the configured cache_defaultExpire. Zero disables expiry.
func WithExpire(expire time.Duration) GetOption {
	return func(o *getOptions) {
		o.expire = expire
	}
}

// New creates a cache at the configured cache_folder.
func New(logger ulogger.Logger, tSettings *settings.Settings) (*Cache, error) {
	return NewAt(logger, tSettings, tSettings.Cache.Folder)
}

// NewAt creates a cache at root, together with a lock manager at the same root for callers that
// need to serialize read-modify-write cycles on entries.
func NewAt(logger ulogger.Logger, tSettings *settings.Settings, root string) (*Cache, error) {
	policy, err := fsio.NewPolicyFromSettings(tSettings)
	if err != nil {
		return nil, err
	}

	lockManager, err := locks.NewAt(logger, tSettings, root)
	if err != nil {
		return nil, err
	}

	initPrometheusMetrics()

	return &Cache{
		logger: logger,
		root:   root,
		expire: tSettings.Cache.DefaultExpire,
		policy: policy,
		codec:  newCodec(tSettings.Cache.Compress, tSettings.Cache.CompressThreshold),
		locks:  lockManager,
		removeReference: func(context.Context, string) error {
			return nil
		},
	}, nil
}

// Locks returns the lock manager living at the cache root.
func (c *Cache) Locks() *locks.Manager {
	return c.locks
}

func (c *Cache) Close() {
	c.locks.Close()
}

// Path returns the entry file of key.
func (c *Cache) Path(key string) string {
	return hashedPath(c.root, key)
}

func hashedPath(root, key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])

	return filepath.Join(root, h[:1], h)
}

// Get decodes the entry of key into dest. It returns false when there is no entry or the entry
// expired, in which case the expired entry is removed. An entry that cannot be decoded is removed
// and reported as corrupted.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}, opts ...GetOption) (bool, error) {
	o := getOptions{expire: c.expire}
	for _, opt := range opts {
		opt(&o)
	}

	path := c.Path(key)

	expired, err := c.expired(ctx, path, o.expire)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			prometheusCacheGet.WithLabelValues("miss").Inc()
			return false, nil
		}

		return false, err
	}

	if expired {
		c.logger.Debugf("[Cache][Get] entry %q expired", key)

		if err = c.removeFile(ctx, path); err != nil {
			return false, err
		}

		prometheusCacheGet.WithLabelValues("expired").Inc()

		return false, nil
	}

	data, err := fsio.Do(ctx, c.logger, c.policy, "CacheRead", func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			prometheusCacheGet.WithLabelValues("miss").Inc()
			return false, nil
		}

		return false, errors.NewStorageError("[Cache][Get] failed to read entry %q", key, err)
	}

	if err = c.codec.decode(data, dest); err != nil {
		c.logger.Warnf("[Cache][Get] removing corrupted entry %q: %v", key, err)
		prometheusCacheGet.WithLabelValues("corrupted").Inc()

		if rmErr := c.removeFile(ctx, path); rmErr != nil {
			return false, errors.Join(err, rmErr)
		}

		return false, err
	}

	prometheusCacheGet.WithLabelValues("hit").Inc()

	return true, nil
}

// GetOr returns the value stored under key, or def when there is none.
func GetOr[T any](ctx context.Context, c *Cache, key string, def T, opts ...GetOption) (T, error) {
	var value T

	found, err := c.Get(ctx, key, &value, opts...)
	if err != nil || !found {
		return def, err
	}

	return value, nil
}

// Put stores value under key, creating the shard directory when needed.
func (c *Cache) Put(ctx context.Context, key string, value interface{}) error {
	data, err := c.codec.encode(value)
	if err != nil {
		return err
	}

	if err = writeFileAtomic(ctx, c.logger, c.policy, c.Path(key), data); err != nil {
		return errors.NewStorageError("[Cache][Put] failed to write entry %q", key, err)
	}

	prometheusCachePut.Inc()

	return nil
}

// Contains reports whether key has an entry that has not expired. A missing entry is not an error.
func (c *Cache) Contains(ctx context.Context, key string) (bool, error) {
	expired, err := c.expired(ctx, c.Path(key), c.expire)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return !expired, nil
}

// Remove deletes the entry of key and reports whether there was one.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	path := c.Path(key)

	existed, err := c.exists(ctx, path)
	if err != nil {
		return false, err
	}

	if err = c.removeFile(ctx, path); err != nil {
		return false, err
	}

	if err = c.removeReference(ctx, key); err != nil {
		return existed, err
	}

	if existed {
		prometheusCacheRemove.Inc()
	}

	return existed, nil
}

func (c *Cache) expired(ctx context.Context, path string, expire time.Duration) (bool, error) {
	info, err := fsio.Do(ctx, c.logger, c.policy, "CacheStat", func() (os.FileInfo, error) {
		return os.Stat(path)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, err
		}

		return false, errors.NewStorageError("[Cache] failed to stat %s", path, err)
	}

	return expire > 0 && info.ModTime().Add(expire).Before(time.Now()), nil
}

func (c *Cache) exists(ctx context.Context, path string) (bool, error) {
	_, err := fsio.Do(ctx, c.logger, c.policy, "CacheStat", func() (os.FileInfo, error) {
		return os.Stat(path)
	})
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, errors.NewStorageError("[Cache] failed to stat %s", path, err)
}

func (c *Cache) removeFile(ctx context.Context, path string) error {
	err := fsio.Run(ctx, c.logger, c.policy, "CacheRemove", func() error {
		return os.Remove(path)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.NewStorageError("[Cache] failed to remove %s", path, err)
	}

	return nil
}

// writeFileAtomic replaces path with data through a temporary file and a rename.
func writeFileAtomic(ctx context.Context, logger ulogger.Logger, policy *fsio.Policy, path string, data []byte) error {
	return fsio.Run(ctx, logger, policy, "CacheWrite", func() error {
		err := renameio.WriteFile(path, data, 0o644)
		if errors.Is(err, fs.ErrNotExist) {
			if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			err = renameio.WriteFile(path, data, 0o644)
		}

		return err
	})
}
