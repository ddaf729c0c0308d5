package blocks

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
)

// SweepReport lists what a reconciliation sweep found, and removed unless it was a dry run.
type SweepReport struct {
	DryRun           bool     `json:"dry_run"`
	UnreferencedRows int      `json:"unreferenced_rows"`
	UntrackedFiles   int      `json:"untracked_files"`
	Bytes            int64    `json:"bytes"`
	Paths            []string `json:"paths,omitempty"`
}

// Sweep reconciles the block files on disk with the recorded block paths. It reclaims block paths
// older than grace that no file content uses, together with their files, and block files older than
// grace that were never recorded, as left behind by a crash between writing and recording a block.
func (s *Store) Sweep(ctx context.Context, grace time.Duration, dryRun bool) (*SweepReport, error) {
	cutoff := s.now().Add(-grace)
	report := &SweepReport{DryRun: dryRun}

	if err := s.sweepRows(ctx, cutoff, report); err != nil {
		return report, err
	}

	if err := s.sweepFiles(ctx, cutoff, report); err != nil {
		return report, err
	}

	s.logger.Infof("[Blocks][Sweep] dry run %t: %d unreferenced block paths, %d untracked files, %d bytes", dryRun, report.UnreferencedRows, report.UntrackedFiles, report.Bytes)

	return report, nil
}

func (s *Store) sweepRows(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	blockPaths, err := s.meta.UnreferencedBlockPaths(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, bp := range blockPaths {
		if report.DryRun {
			report.UnreferencedRows++
			report.Bytes += bp.Size
			report.Paths = append(report.Paths, bp.Path)

			continue
		}

		deleted, err := s.sweepRow(ctx, bp.ID, bp.Code, bp.Path)
		if err != nil {
			return err
		}

		if deleted {
			report.UnreferencedRows++
			report.Bytes += bp.Size
			report.Paths = append(report.Paths, bp.Path)

			prometheusBlocksSwept.WithLabelValues("unreferenced").Inc()
		}
	}

	return nil
}

// sweepRow deletes one block path under its block lock, so a save cannot pick it up in between.
func (s *Store) sweepRow(ctx context.Context, id int64, code, path string) (bool, error) {
	if err := s.locks.Lock(ctx, BlockLockName(code)); err != nil {
		return false, err
	}

	defer s.unlock(code)

	deleted, err := s.meta.DeleteBlockPath(ctx, id)
	if err != nil || !deleted {
		return false, err
	}

	if err = os.Remove(filepath.Join(s.root, path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, errors.NewStorageError("[Blocks][Sweep] failed to remove block file %s", path, err)
	}

	return true, nil
}

func (s *Store) sweepFiles(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return errors.NewStorageError("[Blocks][Sweep] failed to walk %s", path, err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.NewContextCanceledError("[Blocks][Sweep] sweep canceled", ctxErr)
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		depth := len(strings.Split(rel, string(filepath.Separator)))

		if d.IsDir() {
			if rel != "." && depth >= 4 {
				return filepath.SkipDir
			}

			return nil
		}

		// only <YYYYMM>/<DD>/<sequence>/<name> can be a block
		if depth != 4 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return errors.NewStorageError("[Blocks][Sweep] failed to stat %s", rel, err)
		}

		if !info.ModTime().Before(cutoff) {
			return nil
		}

		tracked, err := s.meta.HasBlockPath(ctx, rel)
		if err != nil {
			return err
		}

		if tracked {
			return nil
		}

		if !report.DryRun {
			if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return errors.NewStorageError("[Blocks][Sweep] failed to remove untracked file %s", rel, err)
			}

			prometheusBlocksSwept.WithLabelValues("untracked").Inc()
		}

		report.UntrackedFiles++
		report.Bytes += info.Size()
		report.Paths = append(report.Paths, rel)

		return nil
	})
}
