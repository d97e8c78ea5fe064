package services

import (
	"context"
	"sync"
	"time"

	"github.com/tempcab/cabinet/internal/logging"
)

type expirySweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Reaper periodically deletes expired cabinets and keypairs. The two
// sweeps run on independent tickers so a slow cabinet sweep never delays
// keypair cleanup.
type Reaper struct {
	cabinets    expirySweeper
	credentials expirySweeper
	interval    time.Duration
	logger      logging.Logger
}

func NewReaper(cabinets, credentials expirySweeper, interval time.Duration, logger logging.Logger) *Reaper {
	return &Reaper{
		cabinets:    cabinets,
		credentials: credentials,
		interval:    interval,
		logger:      logger.With("module", "reaper"),
	}
}

// Run starts both sweep loops and blocks until ctx is cancelled and both
// have stopped.
func (r *Reaper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.runLoop(ctx, "cabinets", r.cabinets)
	}()
	go func() {
		defer wg.Done()
		r.runLoop(ctx, "keypairs", r.credentials)
	}()
	wg.Wait()
}

func (r *Reaper) runLoop(ctx context.Context, name string, sweeper expirySweeper) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "sweep loop started", "target", name, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "sweep loop stopped", "target", name)
			return
		case <-ticker.C:
			count, err := sweeper.DeleteExpired(ctx)
			if err != nil {
				r.logger.Error(ctx, "sweep failed", "target", name, "error", err)
				continue
			}
			if count > 0 {
				r.logger.Info(ctx, "sweep removed expired rows", "target", name, "count", count)
			}
		}
	}
}
