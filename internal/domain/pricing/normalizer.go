package pricing

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Normalization errors
var (
	ErrAssetNotSupported = fmt.Errorf("no price feed registered for asset")
	ErrStaleFeed         = fmt.Errorf("price feed is stale")
	ErrInvalidPrice      = fmt.Errorf("price feed reported a non-positive price")
)

// Normalizer converts an (asset, amount) pair into canonical units using the
// registered feed for the asset.
type Normalizer struct {
	feeds     FeedRepository
	source    FeedSource
	tolerance time.Duration
	now       func() time.Time
}

// NewNormalizer creates a Normalizer. tolerance is the maximum accepted feed
// age; quotes older than that fail with ErrStaleFeed.
func NewNormalizer(feeds FeedRepository, source FeedSource, tolerance time.Duration) *Normalizer {
	return &Normalizer{
		feeds:     feeds,
		source:    source,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock overrides the staleness clock. Used in tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize converts amount (raw units of asset) to canonical units:
//
//	value = amount * price / 10^(assetDecimals + feedDecimals - CanonicalDecimals)
//
// All intermediate products are big.Int, so the multiplication can never
// overflow before the division.
func (n *Normalizer) Normalize(ctx context.Context, asset string, amount *big.Int) (*big.Int, error) {
	reg, err := n.feeds.Get(ctx, asset)
	if err != nil {
		return nil, err
	}

	quote, err := n.source.GetPrice(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("feed query for %s: %w", asset, err)
	}

	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: asset %s", ErrInvalidPrice, asset)
	}
	if age := n.now().Sub(quote.UpdatedAt); age > n.tolerance {
		return nil, fmt.Errorf("%w: asset %s updated %s ago", ErrStaleFeed, asset, age.Truncate(time.Second))
	}

	return scaleValue(amount, quote.Price, reg.AssetDecimals, quote.Decimals), nil
}

// scaleValue performs the canonical-unit conversion in integer arithmetic.
// The division floors, so a normalized value never rounds up past what was
// actually deposited.
func scaleValue(amount, price *big.Int, assetDecimals, feedDecimals int32) *big.Int {
	value := new(big.Int).Mul(amount, price)

	exp := int64(assetDecimals) + int64(feedDecimals) - CanonicalDecimals
	switch {
	case exp > 0:
		value.Quo(value, pow10(exp))
	case exp < 0:
		value.Mul(value, pow10(-exp))
	}
	return value
}

func pow10(exp int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
}
