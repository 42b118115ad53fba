package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Closer sweeps for open auctions past their end time and submits the closing
// transition into each auction's coordinator. The sweep is at-least-once: a
// close that fails or a crash mid-sweep is retried on the next tick, and
// close() being idempotent makes the retry harmless. Scheduling jitter up to
// one interval is expected; the closing transition itself is still ordered
// against in-flight bids by the coordinator.
type Closer struct {
	service  AuctionService
	store    Store
	interval time.Duration
	now      func() time.Time
}

func NewCloser(service AuctionService, store Store, interval time.Duration, now func() time.Time) *Closer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Closer{service: service, store: store, interval: interval, now: now}
}

// Run blocks until the context is cancelled.
func (cl *Closer) Run(ctx context.Context) {
	log.Info("Auction closer started", zap.Duration("interval", cl.interval))
	ticker := time.NewTicker(cl.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Auction closer stopped")
			return
		case <-ticker.C:
			cl.Sweep(ctx)
		}
	}
}

// Sweep closes every expired open auction once. Exported so a crashed
// scheduler's supervisor (or a test) can trigger a pass directly.
func (cl *Closer) Sweep(ctx context.Context) {
	ids, err := cl.store.ListExpiredOpenAuctions(ctx, cl.now())
	if err != nil {
		log.Error("Closer sweep failed to list expired auctions", zap.Error(err))
		return
	}
	for _, id := range ids {
		outcome, err := cl.service.CloseAuction(ctx, id)
		if err != nil {
			// retried on the next tick
			log.Warn("Failed to close auction, will retry",
				zap.String("auctionID", id.String()),
				zap.Error(err),
			)
			continue
		}
		log.Info("Closer finalized auction",
			zap.String("auctionID", id.String()),
			zap.String("winnerID", outcome.WinnerID.String()),
			zap.String("finalPrice", outcome.FinalPrice.String()),
		)
	}
}
