package sql

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/ordishs/gocore"
)

func (s *SQL) HasBlockPath(ctx context.Context, path string) (bool, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("HasBlockPath").AddTime(start)
	}()

	var count int

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM block_paths WHERE path = $1`, path).Scan(&count); err != nil {
		return false, errors.NewStorageError("failed to look up block path %s", path, err)
	}

	return count > 0, nil
}

func (s *SQL) UnreferencedBlockPaths(ctx context.Context, createdBefore time.Time) ([]meta.BlockPath, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("UnreferencedBlockPaths").AddTime(start)
	}()

	q := `
		SELECT
		 bp.id
		,bp.code
		,bp.path
		,bp.size
		,bp.created_at
		FROM block_paths bp
		WHERE bp.created_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM file_blocks fb WHERE fb.file_id_block = bp.id
		)
		ORDER BY bp.id
	`

	rows, err := s.db.QueryContext(ctx, q, createdBefore.Unix())
	if err != nil {
		return nil, errors.NewStorageError("failed to query unreferenced block paths", err)
	}

	defer rows.Close()

	var blockPaths []meta.BlockPath

	for rows.Next() {
		var (
			bp        meta.BlockPath
			createdAt int64
		)

		if err = rows.Scan(&bp.ID, &bp.Code, &bp.Path, &bp.Size, &createdAt); err != nil {
			return nil, errors.NewStorageError("failed to scan block path", err)
		}

		bp.CreatedAt = time.Unix(createdAt, 0)
		blockPaths = append(blockPaths, bp)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read unreferenced block paths", err)
	}

	return blockPaths, nil
}

func (s *SQL) DeleteBlockPath(ctx context.Context, id int64) (bool, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("DeleteBlockPath").AddTime(start)
	}()

	q := `
		DELETE FROM block_paths
		WHERE id = $1
		AND NOT EXISTS (
			SELECT 1 FROM file_blocks fb WHERE fb.file_id_block = $1
		)
	`

	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, errors.NewStorageError("failed to delete block path %d", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to delete block path %d", id, err)
	}

	return n > 0, nil
}
