package storage

import (
	"context"

	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/bsv-blockchain/blockvault/stores/cache"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/bsv-blockchain/blockvault/stores/meta"
)

// Interface is what callers of the storage need: files, locks and the cache.
type Interface interface {
	Save(ctx context.Context, p blocks.Payload, applicationCode string, codeKey string, opts ...SaveOption) (*meta.File, error)
	Read(ctx context.Context, ref string) (*meta.File, *blocks.StorageFile, error)
	Delete(ctx context.Context, ids ...int64) (bool, error)
	Lock(ctx context.Context, name string, opts ...locks.LockOption) error
	Unlock(name string) (bool, error)
	Cache() *cache.ReferenceCache
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}

type saveOptions struct {
	filename string
	title    string
}

// SaveOption sets the optional attributes of a saved file.
type SaveOption func(*saveOptions)

func WithFilename(filename string) SaveOption {
	return func(o *saveOptions) {
		o.filename = filename
	}
}

func WithTitle(title string) SaveOption {
	return func(o *saveOptions) {
		o.title = title
	}
}
