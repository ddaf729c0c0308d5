package blocks

import (
	"time"
)

// Option configures a Store.
type Option func(*Store)

// WithBlockSize overrides storage_blockSize without enforcing the configured minimum.
func WithBlockSize(size int) Option {
	return func(s *Store) {
		s.blockSize = size
		s.blockSizeSet = true
	}
}

func WithMaxBlocksPerFolder(n int) Option {
	return func(s *Store) {
		s.maxBlocksPerFolder = n
	}
}

// WithClock replaces time.Now for bucket selection and sweep age checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}
