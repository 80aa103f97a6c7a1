package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openlots/lotledger/internal/domain/auctions"
)

// Poller drives permissionless finalization: it scans for expired open
// auctions on a ticker and settles each. Anyone may also trigger settlement
// through the API; the poller just guarantees it eventually happens.
type Poller struct {
	service     *Service
	auctionRepo auctions.Repository
	batchSize   int
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewPoller creates a settlement poller.
func NewPoller(service *Service, auctionRepo auctions.Repository, batchSize int, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		service:     service,
		auctionRepo: auctionRepo,
		batchSize:   batchSize,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
	}
}

// Run starts the polling loop and blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.settleExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.settleExpired(ctx)
		}
	}
}

func (p *Poller) settleExpired(ctx context.Context) {
	ids, err := p.auctionRepo.ListExpiredOpen(ctx, p.now(), p.batchSize)
	if err != nil {
		p.logger.Error("failed to list expired auctions", "error", err)
		return
	}

	for _, id := range ids {
		err := p.service.EndAuction(ctx, id)
		switch {
		case err == nil:
			p.logger.Info("auction settled", "auction_id", id)
		case errors.Is(err, auctions.ErrAlreadyEnded) || errors.Is(err, ErrNotExpired):
			// Lost the race to an API caller or another poller.
		default:
			// Retried on the next tick; ended is still false.
			p.logger.Error("settlement failed", "auction_id", id, "error", err)
		}
	}
}
