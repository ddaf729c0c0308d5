package sql

import (
	"context"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/ordishs/gocore"
)

func (s *SQL) GetFilePathByCode(ctx context.Context, code string) (*meta.FilePath, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetFilePathByCode").AddTime(start)
	}()

	q := `
		SELECT
		 id
		,code
		,size
		,mimetype
		FROM file_paths
		WHERE code = $1
	`

	var fp meta.FilePath

	if err := s.db.QueryRowContext(ctx, q, code).Scan(
		&fp.ID,
		&fp.Code,
		&fp.Size,
		&fp.Mimetype,
	); err != nil {
		return nil, notFound(err, "file path %s not found", code)
	}

	return &fp, nil
}

// GetSegments returns the blocks of a file content in order.
func (s *SQL) GetSegments(ctx context.Context, filePathID int64) ([]meta.Segment, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetSegments").AddTime(start)
	}()

	q := `
		SELECT
		 bp.path
		,bp.size
		FROM file_blocks fb
		INNER JOIN block_paths bp ON bp.id = fb.file_id_block
		WHERE fb.file_id_path = $1
		ORDER BY fb.block_order
	`

	rows, err := s.db.QueryContext(ctx, q, filePathID)
	if err != nil {
		return nil, errors.NewStorageError("failed to query blocks of file path %d", filePathID, err)
	}

	defer rows.Close()

	var segments []meta.Segment

	for rows.Next() {
		var segment meta.Segment

		if err = rows.Scan(&segment.Path, &segment.Size); err != nil {
			return nil, errors.NewStorageError("failed to scan block of file path %d", filePathID, err)
		}

		segments = append(segments, segment)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to read blocks of file path %d", filePathID, err)
	}

	return segments, nil
}
