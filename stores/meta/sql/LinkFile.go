package sql

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/bsv-blockchain/blockvault/util/usql"
	"github.com/ordishs/gocore"
)

// LinkFile creates the file row, creating the file content and its ordered blocks first unless
// req.FilePathID points at an existing content. Everything is rolled back when any insert fails.
func (s *SQL) LinkFile(ctx context.Context, req *meta.LinkRequest) (*meta.File, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("LinkFile").AddTime(start)
	}()

	if req.FilePathID == 0 && len(req.Blocks) == 0 {
		return nil, errors.NewInvalidArgumentError("file content %s has no blocks", req.Code)
	}

	now := time.Now().Unix()

	file := &meta.File{
		FilePathID:      req.FilePathID,
		Key:             req.Key,
		ApplicationCode: req.ApplicationCode,
		CodeKey:         req.CodeKey,
		Filename:        req.Filename,
		Title:           req.Title,
		CreatedAt:       time.Unix(now, 0),
		Code:            req.Code,
		Size:            req.Size,
		Mimetype:        req.Mimetype,
	}

	err := s.db.WithTx(ctx, nil, func(ctx context.Context, tx *usql.Tx) error {
		if file.FilePathID == 0 {
			id, err := insertFilePath(ctx, tx, req, now)
			if err != nil {
				return err
			}

			file.FilePathID = id
		}

		return insertFile(ctx, tx, file, now)
	})
	if err != nil {
		return nil, err
	}

	return file, nil
}

func insertFilePath(ctx context.Context, tx usql.DBTX, req *meta.LinkRequest, now int64) (int64, error) {
	q := `
		INSERT INTO file_paths (
		 code
		,size
		,mimetype
		,created_at
		) VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64

	if err := tx.QueryRowContext(ctx, q, req.Code, req.Size, req.Mimetype, now).Scan(&id); err != nil {
		return 0, errors.NewStorageError("failed to insert file path %s", req.Code, err)
	}

	qBlock := `
		INSERT INTO file_blocks (
		 file_id_path
		,file_id_block
		,block_order
		) VALUES ($1, $2, $3)
	`

	for order, block := range req.Blocks {
		if _, err := tx.ExecContext(ctx, qBlock, id, block.BlockPathID, order); err != nil {
			return 0, errors.NewStorageError("failed to link block %d of file path %s", order, req.Code, err)
		}
	}

	return id, nil
}

func insertFile(ctx context.Context, tx usql.DBTX, file *meta.File, now int64) error {
	q := `
		INSERT INTO files (
		 file_id
		,file_key
		,application_code
		,code_key
		,filename
		,title
		,created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	if err := tx.QueryRowContext(ctx, q,
		file.FilePathID,
		file.Key,
		file.ApplicationCode,
		file.CodeKey,
		file.Filename,
		file.Title,
		now,
	).Scan(&file.ID); err != nil {
		return errors.NewStorageError("failed to insert file %s", file.Key, err)
	}

	return nil
}
