package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlots/lotledger/internal/domain/escrow"
	pkgdb "github.com/openlots/lotledger/pkg/database"
)

// PostgresEscrowRepository implements escrow.Repository using pgx. All
// operations run inside the caller's transaction.
type PostgresEscrowRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEscrowRepository creates a new PostgreSQL escrow repository.
func NewPostgresEscrowRepository(pool *pgxpool.Pool) *PostgresEscrowRepository {
	return &PostgresEscrowRepository{pool: pool}
}

// Insert records a new escrow entry. The primary key (auction_id, holder)
// rejects a duplicate capture for the same bidder.
func (r *PostgresEscrowRepository) Insert(ctx context.Context, tx pgx.Tx, entry *escrow.Entry) error {
	query := `
		INSERT INTO escrow_entries (auction_id, holder, asset, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, query,
		entry.AuctionID,
		entry.Holder,
		entry.Asset,
		pkgdb.NumericFromBig(entry.Amount),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert escrow entry: %w", err)
	}
	return nil
}

// Get retrieves the holder's entry for an auction.
func (r *PostgresEscrowRepository) Get(ctx context.Context, tx pgx.Tx, auctionID int64, holder string) (*escrow.Entry, error) {
	query := `
		SELECT auction_id, holder, asset, amount, created_at
		FROM escrow_entries
		WHERE auction_id = $1 AND holder = $2
	`
	var (
		entry  escrow.Entry
		amount pgtype.Numeric
	)
	err := tx.QueryRow(ctx, query, auctionID, holder).Scan(
		&entry.AuctionID,
		&entry.Holder,
		&entry.Asset,
		&amount,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNoEscrow
		}
		return nil, fmt.Errorf("failed to get escrow entry: %w", err)
	}

	if entry.Amount, err = pkgdb.BigFromNumeric(amount); err != nil {
		return nil, fmt.Errorf("invalid escrow amount: %w", err)
	}
	return &entry, nil
}

// Delete removes the holder's entry.
func (r *PostgresEscrowRepository) Delete(ctx context.Context, tx pgx.Tx, auctionID int64, holder string) error {
	query := `DELETE FROM escrow_entries WHERE auction_id = $1 AND holder = $2`
	result, err := tx.Exec(ctx, query, auctionID, holder)
	if err != nil {
		return fmt.Errorf("failed to delete escrow entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return escrow.ErrNoEscrow
	}
	return nil
}
