package database

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlots/lotledger/internal/domain/auctions"
	pkgdb "github.com/openlots/lotledger/pkg/database"
)

// PostgresAuctionRepository implements auctions.Repository using pgx.
type PostgresAuctionRepository struct {
	pool *pgxpool.Pool // kept for non-transactional reads
}

// NewPostgresAuctionRepository creates a new PostgreSQL auction repository.
func NewPostgresAuctionRepository(pool *pgxpool.Pool) *PostgresAuctionRepository {
	return &PostgresAuctionRepository{pool: pool}
}

// Create inserts a new auction and assigns its sequential id from the
// database sequence, so ids are never reused even across logic versions.
func (r *PostgresAuctionRepository) Create(ctx context.Context, tx pgx.Tx, a *auctions.Auction) error {
	query := `
		INSERT INTO auctions (seller, asset_contract, asset_id, start_time, duration_seconds, end_time,
		                      reserve_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		a.Seller,
		a.AssetContract,
		a.AssetID,
		a.StartTime,
		int64(a.Duration/time.Second),
		a.EndTime,
		pkgdb.NumericFromBig(a.ReservePrice),
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// Get retrieves an auction by id (non-transactional read).
func (r *PostgresAuctionRepository) Get(ctx context.Context, id int64) (*auctions.Auction, error) {
	return r.getAuction(ctx, r.pool, id, false)
}

// GetForUpdate retrieves an auction and locks its row. The lock is held until
// the caller's transaction finishes, serializing all ledger operations that
// touch the same auction.
func (r *PostgresAuctionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*auctions.Auction, error) {
	return r.getAuction(ctx, tx, id, true)
}

// getAuction is the internal implementation that works with any DBTX.
func (r *PostgresAuctionRepository) getAuction(ctx context.Context, db pkgdb.DBTX, id int64, forUpdate bool) (*auctions.Auction, error) {
	query := `
		SELECT id, seller, asset_contract, asset_id, start_time, duration_seconds, end_time,
		       reserve_price, highest_bidder, highest_bid, highest_bid_asset, highest_bid_amount,
		       ended, created_at, updated_at, settled_at
		FROM auctions
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		a                auctions.Auction
		durationSeconds  int64
		reservePrice     pgtype.Numeric
		highestBid       pgtype.Numeric
		highestBidAmount pgtype.Numeric
	)
	err := db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Seller,
		&a.AssetContract,
		&a.AssetID,
		&a.StartTime,
		&durationSeconds,
		&a.EndTime,
		&reservePrice,
		&a.HighestBidder,
		&highestBid,
		&a.HighestBidAsset,
		&highestBidAmount,
		&a.Ended,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	a.Duration = time.Duration(durationSeconds) * time.Second
	if a.ReservePrice, err = pkgdb.BigFromNumeric(reservePrice); err != nil {
		return nil, fmt.Errorf("invalid reserve_price: %w", err)
	}
	if a.HighestBid, err = pkgdb.BigFromNumeric(highestBid); err != nil {
		return nil, fmt.Errorf("invalid highest_bid: %w", err)
	}
	if a.HighestBidAmount, err = pkgdb.BigFromNumeric(highestBidAmount); err != nil {
		return nil, fmt.Errorf("invalid highest_bid_amount: %w", err)
	}
	return &a, nil
}

// UpdateHighestBid records a new leading bid within a transaction.
func (r *PostgresAuctionRepository) UpdateHighestBid(ctx context.Context, tx pgx.Tx, id int64, bidder string, bid *big.Int, bidAsset string, bidAmount *big.Int) error {
	query := `
		UPDATE auctions
		SET highest_bidder = $1, highest_bid = $2, highest_bid_asset = $3, highest_bid_amount = $4,
		    updated_at = NOW()
		WHERE id = $5 AND NOT ended
	`
	result, err := tx.Exec(ctx, query,
		bidder,
		pkgdb.NumericFromBig(bid),
		bidAsset,
		pkgdb.NumericFromBig(bidAmount),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update highest bid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auctions.ErrNotFound
	}
	return nil
}

// MarkEnded flips the ended flag exactly once; a second call matches no row.
func (r *PostgresAuctionRepository) MarkEnded(ctx context.Context, tx pgx.Tx, id int64, settledAt time.Time) error {
	query := `
		UPDATE auctions
		SET ended = TRUE, settled_at = $1, updated_at = NOW()
		WHERE id = $2 AND NOT ended
	`
	result, err := tx.Exec(ctx, query, settledAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark auction ended: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auctions.ErrAlreadyEnded
	}
	return nil
}

// ListExpiredOpen returns ids of auctions whose bidding window has closed but
// which have not been settled.
func (r *PostgresAuctionRepository) ListExpiredOpen(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id
		FROM auctions
		WHERE NOT ended AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired auctions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
