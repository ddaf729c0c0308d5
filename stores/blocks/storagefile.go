package blocks

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/bsv-blockchain/blockvault/util/fsio"
)

// StorageFile reads the blocks of a file content one after the other. It opens each block only
// when it is reached and cannot be rewound.
type StorageFile struct {
	ctx      context.Context
	store    *Store
	segments []meta.Segment
	size     int64

	next      int
	current   *os.File
	remaining int64
	closed    bool
}

func newStorageFile(ctx context.Context, store *Store, segments []meta.Segment) *StorageFile {
	var size int64
	for _, segment := range segments {
		size += segment.Size
	}

	return &StorageFile{
		ctx:      ctx,
		store:    store,
		segments: segments,
		size:     size,
	}
}

// Size is the total length of the stream.
func (f *StorageFile) Size() int64 {
	return f.size
}

// Read implements io.Reader. A single call never spans two blocks.
func (f *StorageFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if err := f.advance(); err != nil {
		return 0, err
	}

	return f.readCurrent(p)
}

// Chunk returns up to size bytes of the current block, moving to the next block once the current
// one is exhausted. A negative size returns the rest of the current block. At the end of the
// stream it returns io.EOF.
func (f *StorageFile) Chunk(size int) ([]byte, error) {
	if err := f.advance(); err != nil {
		return nil, err
	}

	if size < 0 || int64(size) > f.remaining {
		size = int(f.remaining)
	}

	buf := make([]byte, size)
	read := 0

	for read < size {
		n, err := f.readCurrent(buf[read:])
		read += n

		if err != nil {
			return buf[:read], err
		}
	}

	return buf, nil
}

func (f *StorageFile) Close() error {
	if f.closed {
		return nil
	}

	f.closed = true

	return f.closeCurrent()
}

// advance opens the next block when the current one is exhausted.
func (f *StorageFile) advance() error {
	if f.closed {
		return errors.NewInvalidArgumentError("[Blocks][Read] storage file is closed")
	}

	if f.current != nil {
		return nil
	}

	if f.next >= len(f.segments) {
		return io.EOF
	}

	if err := f.ctx.Err(); err != nil {
		return errors.NewContextCanceledError("[Blocks][Read] read canceled", err)
	}

	segment := f.segments[f.next]
	path := filepath.Join(f.store.root, segment.Path)

	file, err := openBlock(f.ctx, f.store, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.NewNotFoundError("[Blocks][Read] block file %s not found", segment.Path, err)
		}

		return errors.NewStorageError("[Blocks][Read] failed to open block file %s", segment.Path, err)
	}

	f.next++
	f.current = file
	f.remaining = segment.Size

	return nil
}

func (f *StorageFile) readCurrent(p []byte) (int, error) {
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}

	n, err := f.current.Read(p)
	f.remaining -= int64(n)

	if f.remaining == 0 {
		if cErr := f.closeCurrent(); cErr != nil {
			return n, cErr
		}

		return n, nil
	}

	if err != nil {
		segment := f.segments[f.next-1]

		if errors.Is(err, io.EOF) {
			return n, errors.NewStorageError("[Blocks][Read] block file %s is shorter than its recorded size %d", segment.Path, segment.Size)
		}

		return n, errors.NewStorageError("[Blocks][Read] failed to read block file %s", segment.Path, err)
	}

	return n, nil
}

func (f *StorageFile) closeCurrent() error {
	if f.current == nil {
		return nil
	}

	err := f.current.Close()
	f.current = nil

	return err
}

func openBlock(ctx context.Context, store *Store, path string) (*os.File, error) {
	fileSemaphore <- struct{}{}
	defer func() {
		<-fileSemaphore
	}()

	return fsio.Do(ctx, store.logger, store.policy, "BlockOpen", func() (*os.File, error) {
		return os.Open(path)
	})
}
