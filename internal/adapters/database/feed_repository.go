package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlots/lotledger/internal/domain/pricing"
)

// PostgresFeedRepository implements pricing.FeedRepository using pgx.
type PostgresFeedRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresFeedRepository creates a new PostgreSQL feed repository.
func NewPostgresFeedRepository(pool *pgxpool.Pool) *PostgresFeedRepository {
	return &PostgresFeedRepository{pool: pool}
}

// Get returns the registration for an asset, or ErrAssetNotSupported.
func (r *PostgresFeedRepository) Get(ctx context.Context, asset string) (*pricing.Registration, error) {
	query := `
		SELECT asset, feed_url, asset_decimals, created_at, updated_at
		FROM price_feeds
		WHERE asset = $1
	`
	var reg pricing.Registration
	err := r.pool.QueryRow(ctx, query, asset).Scan(
		&reg.Asset,
		&reg.FeedURL,
		&reg.AssetDecimals,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", pricing.ErrAssetNotSupported, asset)
		}
		return nil, fmt.Errorf("failed to get feed registration: %w", err)
	}
	return &reg, nil
}

// Upsert registers or replaces the feed for an asset.
func (r *PostgresFeedRepository) Upsert(ctx context.Context, reg *pricing.Registration) error {
	query := `
		INSERT INTO price_feeds (asset, feed_url, asset_decimals, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset)
		DO UPDATE SET feed_url = EXCLUDED.feed_url,
		              asset_decimals = EXCLUDED.asset_decimals,
		              updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		reg.Asset,
		reg.FeedURL,
		reg.AssetDecimals,
		reg.CreatedAt,
		reg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feed registration: %w", err)
	}
	return nil
}

// List returns all registrations.
func (r *PostgresFeedRepository) List(ctx context.Context) ([]*pricing.Registration, error) {
	query := `
		SELECT asset, feed_url, asset_decimals, created_at, updated_at
		FROM price_feeds
		ORDER BY asset
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed registrations: %w", err)
	}
	defer rows.Close()

	var regs []*pricing.Registration
	for rows.Next() {
		var reg pricing.Registration
		if err := rows.Scan(&reg.Asset, &reg.FeedURL, &reg.AssetDecimals, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feed registration: %w", err)
		}
		regs = append(regs, &reg)
	}
	return regs, rows.Err()
}
