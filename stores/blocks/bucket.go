package blocks

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
)

const bucketLockPrefix = "bucket:"

// bucket is the leaf directory new blocks go to: <YYYYMM>/<DD>/<sequence>.
type bucket struct {
	day   string
	seq   int
	count int
}

func dayDir(t time.Time) string {
	return filepath.Join(t.Format("200601"), t.Format("02"))
}

// bucketLockName serializes the choice of leaf directory for one day of the store at root, so
// processes sharing the root never overfill a sequence directory.
func bucketLockName(root, day string) string {
	return bucketLockPrefix + filepath.ToSlash(filepath.Join(root, day))
}

// nextBucket returns the relative directory for the next block of day, moving on to a new
// sequence directory once the current one holds maxBlocksPerFolder files. The count is read from
// disk, so callers hold the bucket lock of day until the block file is created.
func (s *Store) nextBucket(day string) (string, error) {
	b, err := s.loadBucket(day)
	if err != nil {
		return "", err
	}

	if b.count >= s.maxBlocksPerFolder {
		b.seq++
	}

	return filepath.Join(day, strconv.Itoa(b.seq)), nil
}

// loadBucket finds the highest sequence directory of day and counts its files.
func (s *Store) loadBucket(day string) (bucket, error) {
	b := bucket{day: day}

	entries, err := os.ReadDir(filepath.Join(s.root, day))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return b, nil
		}

		return b, errors.NewStorageError("[Blocks] failed to read bucket directory %s", day, err)
	}

	found := false

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		seq, err := strconv.Atoi(entry.Name())
		if err != nil || seq < 0 {
			continue
		}

		if !found || seq > b.seq {
			b.seq = seq
			found = true
		}
	}

	if !found {
		return b, nil
	}

	files, err := os.ReadDir(filepath.Join(s.root, day, strconv.Itoa(b.seq)))
	if err != nil {
		return b, errors.NewStorageError("[Blocks] failed to read bucket %s/%d", day, b.seq, err)
	}

	b.count = len(files)

	return b, nil
}
