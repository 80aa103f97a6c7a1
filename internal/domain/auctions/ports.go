package auctions

import (
	"context"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository defines the persistence interface for auction records. Records
// are append-or-update only; nothing ever deletes an auction row, so ids are
// never reused.
type Repository interface {
	// Create inserts a new auction within a transaction and assigns its
	// sequential id.
	Create(ctx context.Context, tx pgx.Tx, auction *Auction) error

	// Get retrieves an auction by id (non-transactional read).
	Get(ctx context.Context, id int64) (*Auction, error)

	// GetForUpdate retrieves an auction and locks its row for the rest of the
	// transaction. Every mutating ledger operation goes through this lock, so
	// calls touching the same auction are serialized.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*Auction, error)

	// UpdateHighestBid records a new leading bid. Called only by the bidding
	// service while holding the row lock.
	UpdateHighestBid(ctx context.Context, tx pgx.Tx, id int64, bidder string, bid *big.Int, bidAsset string, bidAmount *big.Int) error

	// MarkEnded flips the ended flag and stamps settled_at. Called only by the
	// settlement service while holding the row lock.
	MarkEnded(ctx context.Context, tx pgx.Tx, id int64, settledAt time.Time) error

	// ListExpiredOpen returns ids of auctions past their end time that have
	// not been settled yet.
	ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]int64, error)
}
