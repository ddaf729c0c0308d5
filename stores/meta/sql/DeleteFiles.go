package sql

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/bsv-blockchain/blockvault/util/usql"
	"github.com/ordishs/gocore"
)

// GetDeleteCandidates returns the codes of the file contents of the given files and of all their
// blocks, sorted, so the caller can lock them before deleting.
func (s *SQL) GetDeleteCandidates(ctx context.Context, ids ...int64) (*meta.DeleteCandidates, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetDeleteCandidates").AddTime(start)
	}()

	qPath := `
		SELECT fp.code
		FROM files f
		INNER JOIN file_paths fp ON fp.id = f.file_id
		WHERE f.id = $1
	`

	qBlocks := `
		SELECT bp.code
		FROM files f
		INNER JOIN file_blocks fb ON fb.file_id_path = f.file_id
		INNER JOIN block_paths bp ON bp.id = fb.file_id_block
		WHERE f.id = $1
	`

	pathCodes := make(map[string]struct{})
	blockCodes := make(map[string]struct{})

	for _, id := range ids {
		codes, err := queryStrings(ctx, s.db, qPath, id)
		if err != nil {
			return nil, errors.NewStorageError("failed to query file path of file %d", id, err)
		}

		for _, code := range codes {
			pathCodes[code] = struct{}{}
		}

		codes, err = queryStrings(ctx, s.db, qBlocks, id)
		if err != nil {
			return nil, errors.NewStorageError("failed to query blocks of file %d", id, err)
		}

		for _, code := range codes {
			blockCodes[code] = struct{}{}
		}
	}

	return &meta.DeleteCandidates{
		FilePathCodes: sortedKeys(pathCodes),
		BlockCodes:    sortedKeys(blockCodes),
	}, nil
}

// DeleteFiles deletes the files, then every file content no file points at anymore, then every
// block no file content uses anymore, all in one transaction.
func (s *SQL) DeleteFiles(ctx context.Context, ids ...int64) (*meta.DeleteResult, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("DeleteFiles").AddTime(start)
	}()

	result := &meta.DeleteResult{}

	err := s.db.WithTx(ctx, nil, func(ctx context.Context, tx *usql.Tx) error {
		filePathIDs := make(map[int64]struct{})

		for _, id := range ids {
			var filePathID int64

			err := tx.QueryRowContext(ctx, `DELETE FROM files WHERE id = $1 RETURNING file_id`, id).Scan(&filePathID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}

				return errors.NewStorageError("failed to delete file %d", id, err)
			}

			result.Files++
			filePathIDs[filePathID] = struct{}{}
		}

		blockIDs := make(map[int64]struct{})

		for _, filePathID := range sortedIDs(filePathIDs) {
			fp, blocks, err := collectFilePath(ctx, tx, filePathID)
			if err != nil {
				return err
			}

			if fp == nil {
				continue
			}

			result.FilePaths = append(result.FilePaths, *fp)

			for _, blockID := range blocks {
				blockIDs[blockID] = struct{}{}
			}
		}

		for _, blockID := range sortedIDs(blockIDs) {
			bp, err := collectBlockPath(ctx, tx, blockID)
			if err != nil {
				return err
			}

			if bp != nil {
				result.BlockPaths = append(result.BlockPaths, *bp)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// collectFilePath deletes a file content and its block links when no file refers to it. It
// returns nil when the content is still in use.
func collectFilePath(ctx context.Context, tx usql.DBTX, id int64) (*meta.FilePath, []int64, error) {
	var refs int

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE file_id = $1`, id).Scan(&refs); err != nil {
		return nil, nil, errors.NewStorageError("failed to count references to file path %d", id, err)
	}

	if refs > 0 {
		return nil, nil, nil
	}

	blockIDs, err := queryIDs(ctx, tx, `SELECT file_id_block FROM file_blocks WHERE file_id_path = $1`, id)
	if err != nil {
		return nil, nil, errors.NewStorageError("failed to query blocks of file path %d", id, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM file_blocks WHERE file_id_path = $1`, id); err != nil {
		return nil, nil, errors.NewStorageError("failed to unlink blocks of file path %d", id, err)
	}

	fp := meta.FilePath{ID: id}

	if err = tx.QueryRowContext(ctx, `DELETE FROM file_paths WHERE id = $1 RETURNING code, size, mimetype`, id).Scan(
		&fp.Code,
		&fp.Size,
		&fp.Mimetype,
	); err != nil {
		return nil, nil, errors.NewStorageError("failed to delete file path %d", id, err)
	}

	return &fp, blockIDs, nil
}

// collectBlockPath deletes a block path when no file content uses it. It returns nil when the
// block is still in use.
func collectBlockPath(ctx context.Context, tx usql.DBTX, id int64) (*meta.BlockPath, error) {
	var refs int

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_blocks WHERE file_id_block = $1`, id).Scan(&refs); err != nil {
		return nil, errors.NewStorageError("failed to count references to block path %d", id, err)
	}

	if refs > 0 {
		return nil, nil
	}

	var (
		bp        = meta.BlockPath{ID: id}
		createdAt int64
	)

	if err := tx.QueryRowContext(ctx, `DELETE FROM block_paths WHERE id = $1 RETURNING code, path, size, created_at`, id).Scan(
		&bp.Code,
		&bp.Path,
		&bp.Size,
		&createdAt,
	); err != nil {
		return nil, errors.NewStorageError("failed to delete block path %d", id, err)
	}

	bp.CreatedAt = time.Unix(createdAt, 0)

	return &bp, nil
}

func queryIDs(ctx context.Context, db usql.DBTX, q string, args ...interface{}) ([]int64, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func queryStrings(ctx context.Context, db usql.DBTX, q string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var values []string

	for rows.Next() {
		var v string
		if err = rows.Scan(&v); err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, rows.Err()
}

func sortedIDs(m map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	return ids
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
