package meta

import (
	"context"
	"time"
)

// Store persists the metadata model. Getters return an errors.ErrNotFound error when nothing
// matches.
type Store interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Close() error

	GetBlockPathByCode(ctx context.Context, code string) (*BlockPath, error)
	InsertBlockPath(ctx context.Context, code string, path string, size int64) (*BlockPath, error)
	HasBlockPath(ctx context.Context, path string) (bool, error)
	// UnreferencedBlockPaths returns block paths created before the given time that no file
	// content uses.
	UnreferencedBlockPaths(ctx context.Context, createdBefore time.Time) ([]BlockPath, error)
	// DeleteBlockPath deletes a block path as long as no file content uses it.
	DeleteBlockPath(ctx context.Context, id int64) (bool, error)

	GetFilePathByCode(ctx context.Context, code string) (*FilePath, error)
	GetSegments(ctx context.Context, filePathID int64) ([]Segment, error)

	// LinkFile creates the file, and the file content when needed, in a single transaction.
	LinkFile(ctx context.Context, req *LinkRequest) (*File, error)
	GetFile(ctx context.Context, id int64) (*File, error)
	GetFileByKey(ctx context.Context, key string) (*File, error)

	GetDeleteCandidates(ctx context.Context, ids ...int64) (*DeleteCandidates, error)
	// DeleteFiles deletes the files and, in the same transaction, every file content and block
	// path no longer referenced.
	DeleteFiles(ctx context.Context, ids ...int64) (*DeleteResult, error)
}
