package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlots/lotledger/internal/domain/admin"
)

// PostgresConfigRepository implements admin.ConfigRepository using pgx. The
// table holds at most one row, enforced by its primary key check.
type PostgresConfigRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresConfigRepository creates a new PostgreSQL config repository.
func NewPostgresConfigRepository(pool *pgxpool.Pool) *PostgresConfigRepository {
	return &PostgresConfigRepository{pool: pool}
}

// Insert stores the configuration row if none exists. ON CONFLICT DO NOTHING
// makes the initializer idempotent to observe: a second call reports that the
// row was already there without touching it.
func (r *PostgresConfigRepository) Insert(ctx context.Context, cfg *admin.Config) (bool, error) {
	query := `
		INSERT INTO app_config (id, admin_address, bootstrap_hash, initialized_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, cfg.AdminAddress, cfg.BootstrapHash, cfg.InitializedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert configuration: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Get returns the configuration row.
func (r *PostgresConfigRepository) Get(ctx context.Context) (*admin.Config, error) {
	query := `SELECT admin_address, bootstrap_hash, initialized_at FROM app_config WHERE id = 1`

	var cfg admin.Config
	err := r.pool.QueryRow(ctx, query).Scan(&cfg.AdminAddress, &cfg.BootstrapHash, &cfg.InitializedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, admin.ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &cfg, nil
}
