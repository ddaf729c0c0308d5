// Package storage saves, reads and deletes files on top of the content addressed block store,
// serializing the work on a content with file locks.
package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/bsv-blockchain/blockvault/stores/cache"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	metasql "github.com/bsv-blockchain/blockvault/stores/meta/sql"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/health"
	"github.com/google/uuid"
)

const contentLockPrefix = "file:"

type Storage struct {
	logger   ulogger.Logger
	settings *settings.Settings
	meta     meta.Store
	blocks   *blocks.Store
	locks    *locks.Manager
	cache    *cache.ReferenceCache
}

// New opens the metadata store, the lock manager, the cache and the block store configured in
// tSettings.
func New(logger ulogger.Logger, tSettings *settings.Settings, blockOpts ...blocks.Option) (*Storage, error) {
	logger = logger.New("storage")

	metaStore, err := metasql.New(logger, tSettings.Storage.MetaStoreURL, tSettings)
	if err != nil {
		return nil, err
	}

	lockManager, err := locks.New(logger, tSettings)
	if err != nil {
		_ = metaStore.Close()
		return nil, err
	}

	refCache, err := cache.NewReferenceCache(logger, tSettings)
	if err != nil {
		lockManager.Close()
		_ = metaStore.Close()

		return nil, err
	}

	blockStore, err := blocks.New(logger, tSettings, metaStore, lockManager, blockOpts...)
	if err != nil {
		refCache.Close()
		lockManager.Close()
		_ = metaStore.Close()

		return nil, err
	}

	return NewWithStores(logger, tSettings, metaStore, blockStore, lockManager, refCache), nil
}

func NewWithStores(logger ulogger.Logger, tSettings *settings.Settings, metaStore meta.Store, blockStore *blocks.Store,
	lockManager *locks.Manager, refCache *cache.ReferenceCache) *Storage {
	initPrometheusMetrics()

	return &Storage{
		logger:   logger,
		settings: tSettings,
		meta:     metaStore,
		blocks:   blockStore,
		locks:    lockManager,
		cache:    refCache,
	}
}

// ContentLockName is the lock name serializing the creation and collection of a file content.
func ContentLockName(code string) string {
	return contentLockPrefix + code
}

// Save stores the payload and creates a new file for it. When the same content was saved before,
// the new file shares it and no block is written.
func (s *Storage) Save(ctx context.Context, p blocks.Payload, applicationCode string, codeKey string, opts ...SaveOption) (*meta.File, error) {
	start := time.Now()

	o := saveOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	sc, err := s.blocks.Scan(ctx, p)
	if err != nil {
		return nil, err
	}

	lockName := ContentLockName(sc.Code)

	if err = s.locks.Lock(ctx, lockName); err != nil {
		return nil, err
	}

	defer s.unlock(lockName)

	req := &meta.LinkRequest{
		Code:            sc.Code,
		Size:            sc.Size,
		Mimetype:        sc.Mimetype,
		Key:             uuid.NewString(),
		ApplicationCode: applicationCode,
		CodeKey:         codeKey,
		Filename:        o.filename,
		Title:           o.title,
	}

	content := "new"

	fp, err := s.meta.GetFilePathByCode(ctx, sc.Code)

	switch {
	case err == nil:
		content = "deduplicated"
		req.FilePathID = fp.ID
		req.Size = fp.Size
		req.Mimetype = fp.Mimetype
	case errors.Is(err, errors.ErrNotFound):
		if req.Blocks, err = s.blocks.SaveScanned(ctx, p, sc); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	file, err := s.meta.LinkFile(ctx, req)
	if err != nil {
		return nil, err
	}

	prometheusStorageSave.WithLabelValues(content).Inc()
	prometheusStorageSavedBytes.Add(float64(file.Size))
	prometheusStorageSaveSeconds.Observe(time.Since(start).Seconds())

	s.logger.Debugf("[Storage][Save] saved file %d (%s), %s content %s of %d bytes", file.ID, file.Key, content, file.Code, file.Size)

	return file, nil
}

// Read returns the file referred to by ref, a numeric id or a key, and a stream over its content.
// The caller closes the stream.
func (s *Storage) Read(ctx context.Context, ref string) (*meta.File, *blocks.StorageFile, error) {
	file, err := s.GetFile(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	segments, err := s.meta.GetSegments(ctx, file.FilePathID)
	if err != nil {
		return nil, nil, err
	}

	prometheusStorageRead.Inc()

	return file, s.blocks.Open(ctx, segments), nil
}

// GetFile looks a file up by numeric id or by key.
func (s *Storage) GetFile(ctx context.Context, ref string) (*meta.File, error) {
	if ref == "" {
		return nil, errors.NewInvalidArgumentError("[Storage] empty file reference")
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.meta.GetFile(ctx, id)
	}

	return s.meta.GetFileByKey(ctx, ref)
}

// Delete deletes the files and collects the contents and blocks nothing refers to anymore. It
// returns false when none of the files existed.
func (s *Storage) Delete(ctx context.Context, ids ...int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	candidates, err := s.meta.GetDeleteCandidates(ctx, ids...)
	if err != nil {
		return false, err
	}

	if len(candidates.FilePathCodes) == 0 {
		return false, nil
	}

	names := make([]string, 0, len(candidates.FilePathCodes)+len(candidates.BlockCodes))

	for _, code := range candidates.FilePathCodes {
		names = append(names, ContentLockName(code))
	}

	for _, code := range candidates.BlockCodes {
		names = append(names, blocks.BlockLockName(code))
	}

	held := make([]string, 0, len(names))

	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			s.unlock(held[i])
		}
	}()

	for _, name := range names {
		if err = s.locks.Lock(ctx, name); err != nil {
			return false, err
		}

		held = append(held, name)
	}

	result, err := s.meta.DeleteFiles(ctx, ids...)
	if err != nil {
		return false, err
	}

	removed, err := s.blocks.Remove(ctx, result.BlockPaths)
	if err != nil {
		s.logger.Warnf("[Storage][Delete] %v", err)
	}

	prometheusStorageDelete.Add(float64(result.Files))
	prometheusStorageCollected.WithLabelValues("content").Add(float64(len(result.FilePaths)))
	prometheusStorageCollected.WithLabelValues("block").Add(float64(len(result.BlockPaths)))

	s.logger.Debugf("[Storage][Delete] deleted %d files, collected %d contents and %d blocks, removed %d block files",
		result.Files, len(result.FilePaths), len(result.BlockPaths), removed)

	return result.Files > 0, nil
}

func (s *Storage) Lock(ctx context.Context, name string, opts ...locks.LockOption) error {
	return s.locks.Lock(ctx, name, opts...)
}

func (s *Storage) Unlock(name string) (bool, error) {
	return s.locks.Unlock(name)
}

func (s *Storage) Cache() *cache.ReferenceCache {
	return s.cache
}

func (s *Storage) Settings() *settings.Settings {
	return s.settings
}

func (s *Storage) Locks() *locks.Manager {
	return s.locks
}

func (s *Storage) Blocks() *blocks.Store {
	return s.blocks
}

// Sweep runs the reconciliation sweep of the block store.
func (s *Storage) Sweep(ctx context.Context, grace time.Duration, dryRun bool) (*blocks.SweepReport, error) {
	return s.blocks.Sweep(ctx, grace, dryRun)
}

// Reap runs one pass of the lock reaper.
func (s *Storage) Reap(ctx context.Context) (locks.ReapReport, error) {
	return s.locks.Reap(ctx)
}

func (s *Storage) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return health.CheckAll(ctx, checkLiveness, []health.Check{
		{Name: "MetaStore", Check: s.meta.Health},
		{Name: "BlockStore", Check: s.blocks.Health},
	})
}

func (s *Storage) Close() error {
	s.cache.Close()
	s.locks.Close()

	return s.meta.Close()
}

func (s *Storage) unlock(name string) {
	if _, err := s.locks.Unlock(name); err != nil {
		s.logger.Errorf("[Storage] failed to unlock %s: %v", name, err)
	}
}
