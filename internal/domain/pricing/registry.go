package pricing

import (
	"context"
	"fmt"
	"time"
)

// Registry owns the price feed configuration. Mutations require the caller to
// pass the admin authorization check; reads are open to the normalizer.
type Registry struct {
	repo       FeedRepository
	authorizer Authorizer
	now        func() time.Time
}

// NewRegistry creates a feed registry service.
func NewRegistry(repo FeedRepository, authorizer Authorizer) *Registry {
	return &Registry{
		repo:       repo,
		authorizer: authorizer,
		now:        time.Now,
	}
}

// RegisterFeed registers or replaces the feed for an asset. Only the admin
// identity may call it.
func (r *Registry) RegisterFeed(ctx context.Context, caller string, asset, feedURL string, assetDecimals int32) error {
	if err := r.authorizer.Authorize(ctx, caller); err != nil {
		return err
	}

	if asset == "" {
		return fmt.Errorf("asset identifier is required")
	}
	if feedURL == "" {
		return fmt.Errorf("feed URL is required")
	}
	if assetDecimals < 0 || assetDecimals > 77 {
		return fmt.Errorf("asset decimals out of range: %d", assetDecimals)
	}

	reg := &Registration{
		Asset:         asset,
		FeedURL:       feedURL,
		AssetDecimals: assetDecimals,
		CreatedAt:     r.now(),
		UpdatedAt:     r.now(),
	}
	if err := r.repo.Upsert(ctx, reg); err != nil {
		return fmt.Errorf("failed to store feed registration: %w", err)
	}
	return nil
}

// ListFeeds returns all registrations.
func (r *Registry) ListFeeds(ctx context.Context) ([]*Registration, error) {
	return r.repo.List(ctx)
}
