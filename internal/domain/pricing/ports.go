package pricing

import "context"

// FeedRepository persists feed registrations. Get returns
// ErrAssetNotSupported for unregistered assets.
type FeedRepository interface {
	Get(ctx context.Context, asset string) (*Registration, error)
	Upsert(ctx context.Context, reg *Registration) error
	List(ctx context.Context) ([]*Registration, error)
}

// FeedSource queries the external oracle behind a registration.
type FeedSource interface {
	GetPrice(ctx context.Context, reg *Registration) (*Quote, error)
}

// Authorizer gates mutations of the feed registry. Implemented by the admin
// service.
type Authorizer interface {
	Authorize(ctx context.Context, caller string) error
}
