package sql

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/ordishs/gocore"
)

// InsertBlockPath commits a new block path on its own, outside of any file transaction, so the
// row exists as soon as the block file is on disk.
func (s *SQL) InsertBlockPath(ctx context.Context, code string, path string, size int64) (*meta.BlockPath, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("InsertBlockPath").AddTime(start)
	}()

	q := `
		INSERT INTO block_paths (
		 code
		,path
		,size
		,created_at
		) VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now()

	bp := &meta.BlockPath{
		Code:      code,
		Path:      path,
		Size:      size,
		CreatedAt: time.Unix(now.Unix(), 0),
	}

	if err := s.db.QueryRowContext(ctx, q, code, path, size, now.Unix()).Scan(&bp.ID); err != nil {
		return nil, errors.NewStorageError("failed to insert block path %s", code, err)
	}

	return bp, nil
}
