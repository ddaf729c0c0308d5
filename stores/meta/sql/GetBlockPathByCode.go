package sql

import (
	"context"
	"time"

	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/ordishs/gocore"
)

func (s *SQL) GetBlockPathByCode(ctx context.Context, code string) (*meta.BlockPath, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetBlockPathByCode").AddTime(start)
	}()

	q := `
		SELECT
		 id
		,code
		,path
		,size
		,created_at
		FROM block_paths
		WHERE code = $1
	`

	var (
		bp        meta.BlockPath
		createdAt int64
	)

	if err := s.db.QueryRowContext(ctx, q, code).Scan(
		&bp.ID,
		&bp.Code,
		&bp.Path,
		&bp.Size,
		&createdAt,
	); err != nil {
		return nil, notFound(err, "block path %s not found", code)
	}

	bp.CreatedAt = time.Unix(createdAt, 0)

	return &bp, nil
}
