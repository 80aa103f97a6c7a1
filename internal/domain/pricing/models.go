package pricing

import (
	"math/big"
	"time"
)

// CanonicalDecimals is the precision of the common comparison unit. It
// matches the native currency's conventional 18 decimals, so a native bid
// priced by a 0-decimal feed normalizes to itself.
const CanonicalDecimals = 18

// Registration maps an asset to its price feed and declares the asset's own
// precision. Registered by the admin, read on every bid.
type Registration struct {
	Asset         string
	FeedURL       string
	AssetDecimals int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Quote is one price observation from a feed.
type Quote struct {
	Price     *big.Int // integer price at Decimals precision
	Decimals  int32
	UpdatedAt time.Time
}
