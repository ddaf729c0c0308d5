package storage

import (
	"context"
	"net/http"
	"time"

	"github.com/bsv-blockchain/blockvault/ulogger"
)

// Sweeper runs the block store sweep periodically.
type Sweeper struct {
	logger   ulogger.Logger
	storage  *Storage
	interval time.Duration
	grace    time.Duration
}

func NewSweeper(logger ulogger.Logger, s *Storage, interval time.Duration) *Sweeper {
	return &Sweeper{
		logger:   logger.New("sweeper"),
		storage:  s,
		interval: interval,
		grace:    s.settings.Storage.SweepGrace,
	}
}

func (sw *Sweeper) Init(_ context.Context) error {
	return nil
}

// Start sweeps every interval until ctx is done. A failed pass is logged and retried on the next
// tick.
func (sw *Sweeper) Start(ctx context.Context, readyCh chan<- struct{}) error {
	close(readyCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sw.storage.Sweep(ctx, sw.grace, false); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				sw.logger.Warnf("[Storage][Sweeper] pass failed: %v", err)
			}
		}
	}
}

func (sw *Sweeper) Stop(_ context.Context) error {
	return nil
}

func (sw *Sweeper) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}
