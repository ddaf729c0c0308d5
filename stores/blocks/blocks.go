// Package blocks stores payloads as deduplicated, content addressed blocks.
//
// A payload is cut into blocks of a fixed size. Every distinct block is written once, to
// <root>/<YYYYMM>/<DD>/<sequence>/<random name>, and recorded as a BlockPath keyed by the sha256 of
// its bytes. Block files are never modified after they were written, so reading needs no lock.
package blocks

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/bsv-blockchain/blockvault/util/fsio"
	"github.com/labstack/gommon/random"
)

const blockLockPrefix = "block:"

// fileSemaphore bounds the number of block files open at the same time.
var fileSemaphore = make(chan struct{}, 1024)

type Store struct {
	logger             ulogger.Logger
	root               string
	blockSize          int
	blockSizeSet       bool
	maxBlocksPerFolder int
	meta               meta.Store
	locks              *locks.Manager
	policy             *fsio.Policy
	now                func() time.Time
}

// New creates a store at the configured storage_folder.
func New(logger ulogger.Logger, tSettings *settings.Settings, metaStore meta.Store, lockManager *locks.Manager, opts ...Option) (*Store, error) {
	return NewAt(logger, tSettings, tSettings.Storage.Folder, metaStore, lockManager, opts...)
}

func NewAt(logger ulogger.Logger, tSettings *settings.Settings, root string, metaStore meta.Store, lockManager *locks.Manager, opts ...Option) (*Store, error) {
	logger = logger.New("blocks")

	policy, err := fsio.NewPolicyFromSettings(tSettings)
	if err != nil {
		return nil, err
	}

	s := &Store{
		logger:             logger,
		root:               root,
		blockSize:          tSettings.Storage.BlockSize,
		maxBlocksPerFolder: tSettings.Storage.MaxBlocksPerFolder,
		meta:               metaStore,
		locks:              lockManager,
		policy:             policy,
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if !s.blockSizeSet && s.blockSize < settings.MinBlockSize {
		return nil, errors.NewConfigurationError("[Blocks] block size must be at least %d bytes, got %d", settings.MinBlockSize, s.blockSize)
	}

	if s.blockSize <= 0 {
		return nil, errors.NewConfigurationError("[Blocks] block size must be positive, got %d", s.blockSize)
	}

	if s.maxBlocksPerFolder <= 0 {
		return nil, errors.NewConfigurationError("[Blocks] max blocks per folder must be positive, got %d", s.maxBlocksPerFolder)
	}

	if err = os.MkdirAll(root, 0755); err != nil {
		return nil, errors.NewStorageError("[Blocks] failed to create directory %s", root, err)
	}

	initPrometheusMetrics()

	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) BlockSize() int {
	return s.blockSize
}

// BlockLockName is the lock name serializing the creation of the block with the given code.
func BlockLockName(code string) string {
	return blockLockPrefix + code
}

// Scan hashes the payload without storing anything. It fails with an empty payload error when
// the payload has no data.
func (s *Store) Scan(_ context.Context, p Payload) (*Scan, error) {
	r, err := p.reader()
	if err != nil {
		return nil, err
	}

	return scan(r, s.blockSize)
}

// SaveBlocks stores the blocks of the payload and returns them in payload order.
func (s *Store) SaveBlocks(ctx context.Context, p Payload) ([]meta.BlockRef, error) {
	sc, err := s.Scan(ctx, p)
	if err != nil {
		return nil, err
	}

	return s.SaveScanned(ctx, p, sc)
}

// SaveScanned stores the blocks of a payload scanned before. Every distinct block is locked, in
// ascending code order, before any of them is looked up. A block that exists already is reused;
// a new block is written to disk and then recorded. Each lock is released as soon as its block is
// recorded.
func (s *Store) SaveScanned(ctx context.Context, p Payload, sc *Scan) ([]meta.BlockRef, error) {
	codes := sc.DistinctCodes()
	held := make(map[string]struct{}, len(codes))

	defer func() {
		for code := range held {
			s.unlock(code)
		}
	}()

	for _, code := range codes {
		if err := s.locks.Lock(ctx, BlockLockName(code)); err != nil {
			return nil, err
		}

		held[code] = struct{}{}
	}

	r, err := p.reader()
	if err != nil {
		return nil, err
	}

	var (
		refs   = make([]meta.BlockRef, 0, len(sc.Blocks))
		stored = make(map[string]meta.BlockRef, len(codes))
		buf    = make([]byte, s.blockSize)
	)

	for i, b := range sc.Blocks {
		data := buf[:b.Size]

		if _, err = io.ReadFull(r, data); err != nil {
			return nil, errors.NewStorageError("[Blocks][SaveBlocks] failed to read block %d of payload", i, err)
		}

		if ref, ok := stored[b.Code]; ok {
			refs = append(refs, ref)
			continue
		}

		ref, err := s.storeBlock(ctx, b.Code, data)
		if err != nil {
			return nil, err
		}

		s.unlock(b.Code)
		delete(held, b.Code)

		stored[b.Code] = ref
		refs = append(refs, ref)
	}

	return refs, nil
}

func (s *Store) storeBlock(ctx context.Context, code string, data []byte) (meta.BlockRef, error) {
	bp, err := s.meta.GetBlockPathByCode(ctx, code)
	if err == nil {
		prometheusBlocksDeduplicated.Inc()

		return meta.BlockRef{BlockPathID: bp.ID, Code: bp.Code, Size: bp.Size}, nil
	}

	if !errors.Is(err, errors.ErrNotFound) {
		return meta.BlockRef{}, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != code {
		return meta.BlockRef{}, errors.NewInvalidArgumentError("[Blocks][SaveBlocks] payload changed while it was being saved")
	}

	rel, err := s.writeBlock(ctx, data)
	if err != nil {
		return meta.BlockRef{}, err
	}

	bp, err = s.meta.InsertBlockPath(ctx, code, rel, int64(len(data)))
	if err != nil {
		if rmErr := os.Remove(filepath.Join(s.root, rel)); rmErr != nil {
			s.logger.Warnf("[Blocks][SaveBlocks] failed to remove unrecorded block %s: %v", rel, rmErr)
		}

		return meta.BlockRef{}, err
	}

	prometheusBlocksWritten.Inc()
	prometheusBlocksBytesWritten.Add(float64(len(data)))

	return meta.BlockRef{BlockPathID: bp.ID, Code: bp.Code, Size: bp.Size}, nil
}

// writeBlock writes data to a new file in the current bucket and returns its path relative to the
// store root.
func (s *Store) writeBlock(ctx context.Context, data []byte) (string, error) {
	fileSemaphore <- struct{}{}
	defer func() {
		<-fileSemaphore
	}()

	rel, f, err := s.createBlockFile(ctx)
	if err != nil {
		return "", err
	}

	if err = writeAndSync(f, data); err != nil {
		_ = os.Remove(filepath.Join(s.root, rel))
		return "", errors.NewStorageError("[Blocks][SaveBlocks] failed to write block file %s", rel, err)
	}

	return rel, nil
}

// createBlockFile creates an empty block file in the current bucket while holding the bucket lock
// of the day, so the file counts towards the bucket before the lock is given up.
func (s *Store) createBlockFile(ctx context.Context) (string, *os.File, error) {
	day := dayDir(s.now())
	lockName := bucketLockName(s.root, day)

	if err := s.locks.Lock(ctx, lockName); err != nil {
		return "", nil, err
	}

	defer func() {
		if _, err := s.locks.Unlock(lockName); err != nil {
			s.logger.Errorf("[Blocks] failed to unlock bucket %s: %v", day, err)
		}
	}()

	dir, err := s.nextBucket(day)
	if err != nil {
		return "", nil, err
	}

	if err = fsio.Run(ctx, s.logger, s.policy, "BlockMkdir", func() error {
		return os.MkdirAll(filepath.Join(s.root, dir), 0755)
	}); err != nil {
		return "", nil, errors.NewStorageError("[Blocks][SaveBlocks] failed to create bucket %s", dir, err)
	}

	for attempt := 0; attempt < 8; attempt++ {
		rel := filepath.Join(dir, random.String(32, random.Lowercase, random.Numeric))
		path := filepath.Join(s.root, rel)

		f, err := fsio.Do(ctx, s.logger, s.policy, "BlockCreate", func() (*os.File, error) {
			return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		})
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}

			return "", nil, errors.NewStorageError("[Blocks][SaveBlocks] failed to create block file %s", rel, err)
		}

		return rel, f, nil
	}

	return "", nil, errors.NewStorageError("[Blocks][SaveBlocks] no free file name in bucket %s", dir)
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func (s *Store) unlock(code string) {
	if _, err := s.locks.Unlock(BlockLockName(code)); err != nil {
		s.logger.Errorf("[Blocks] failed to unlock block %s: %v", code, err)
	}
}

// Remove deletes the files of block paths whose rows were deleted. A file that is already gone is
// not an error. It returns the number of files removed.
func (s *Store) Remove(ctx context.Context, blockPaths []meta.BlockPath) (int, error) {
	var (
		removed int
		errs    []error
	)

	for _, bp := range blockPaths {
		err := fsio.Run(ctx, s.logger, s.policy, "BlockRemove", func() error {
			return os.Remove(filepath.Join(s.root, bp.Path))
		})

		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Debugf("[Blocks][Remove] block file %s was already gone", bp.Path)
		default:
			errs = append(errs, errors.NewStorageError("[Blocks][Remove] failed to remove block file %s", bp.Path, err))
		}
	}

	prometheusBlocksRemoved.Add(float64(removed))

	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}

	return removed, nil
}

// Open returns a stream over the given blocks, read in order.
func (s *Store) Open(ctx context.Context, segments []meta.Segment) *StorageFile {
	return newStorageFile(ctx, s, segments)
}

// Health checks that the block root is writable, readable and allows deletes.
func (s *Store) Health(_ context.Context, _ bool) (int, string, error) {
	fileSemaphore <- struct{}{}
	defer func() {
		<-fileSemaphore
	}()

	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return http.StatusInternalServerError, "Block Store: Path does not exist", err
	}

	tempFile, err := os.CreateTemp(s.root, "health-check-*.tmp")
	if err != nil {
		return http.StatusInternalServerError, "Block Store: Unable to create temporary file", err
	}

	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	testData := []byte("health check")
	if _, err = tempFile.Write(testData); err != nil {
		_ = tempFile.Close()
		return http.StatusInternalServerError, "Block Store: Unable to write to file", err
	}

	_ = tempFile.Close()

	readData, err := os.ReadFile(tempFileName)
	if err != nil {
		return http.StatusInternalServerError, "Block Store: Unable to read file", err
	}

	if !bytes.Equal(readData, testData) {
		return http.StatusInternalServerError, "Block Store: Data integrity check failed", nil
	}

	if err = os.Remove(tempFileName); err != nil {
		return http.StatusInternalServerError, "Block Store: Unable to delete file", err
	}

	return http.StatusOK, "Block Store: Healthy", nil
}
