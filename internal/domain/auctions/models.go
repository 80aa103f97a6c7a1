package auctions

import (
	"math/big"
	"time"
)

// NativeAsset identifies the chain's native currency in bids and feed
// registrations. Fungible tokens are identified by their contract address.
const NativeAsset = "0x0000000000000000000000000000000000000000"

// Auction is one lifecycle instance: one non-fungible asset, one seller, one
// time window. Identity fields are immutable after creation; only the
// highest-bid fields and the ended flag change, and only through the bidding
// and settlement services.
type Auction struct {
	ID               int64
	Seller           string
	AssetContract    string
	AssetID          int64
	StartTime        time.Time
	Duration         time.Duration
	EndTime          time.Time
	ReservePrice     *big.Int // canonical units
	HighestBidder    string   // empty until the first accepted bid
	HighestBid       *big.Int // canonical units
	HighestBidAsset  string
	HighestBidAmount *big.Int // raw units of HighestBidAsset, refunded in kind
	Ended            bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SettledAt        *time.Time
}

// HasBid reports whether a valid bid has ever been accepted.
func (a *Auction) HasBid() bool {
	return a.HighestBidder != ""
}

// CreateAuctionCommand carries the creation parameters.
type CreateAuctionCommand struct {
	Seller        string
	Duration      time.Duration
	ReservePrice  *big.Int
	AssetContract string
	AssetID       int64
}
