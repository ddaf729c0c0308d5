package sql

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/ordishs/gocore"
)

const fileColumns = `
		 f.id
		,f.file_id
		,f.file_key
		,f.application_code
		,f.code_key
		,f.filename
		,f.title
		,f.created_at
		,fp.code
		,fp.size
		,fp.mimetype
		FROM files f
		INNER JOIN file_paths fp ON fp.id = f.file_id
`

func (s *SQL) GetFile(ctx context.Context, id int64) (*meta.File, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetFile").AddTime(start)
	}()

	file, err := s.scanFile(ctx, `SELECT`+fileColumns+`WHERE f.id = $1`, id)
	if err != nil {
		return nil, notFound(err, "file %d not found", id)
	}

	return file, nil
}

func (s *SQL) GetFileByKey(ctx context.Context, key string) (*meta.File, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetFileByKey").AddTime(start)
	}()

	file, err := s.scanFile(ctx, `SELECT`+fileColumns+`WHERE f.file_key = $1`, key)
	if err != nil {
		return nil, notFound(err, "file %s not found", key)
	}

	return file, nil
}

func (s *SQL) scanFile(ctx context.Context, q string, arg interface{}) (*meta.File, error) {
	var (
		file      meta.File
		createdAt int64
	)

	if err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&file.ID,
		&file.FilePathID,
		&file.Key,
		&file.ApplicationCode,
		&file.CodeKey,
		&file.Filename,
		&file.Title,
		&createdAt,
		&file.Code,
		&file.Size,
		&file.Mimetype,
	); err != nil {
		return nil, err
	}

	file.CreatedAt = time.Unix(createdAt, 0)

	return &file, nil
}
