package bids

import (
	"math/big"
	"time"
)

// PlaceBidCommand represents the command to place a bid. Amount is both the
// declared bid and the exact deposit moved into escrow, in Asset's raw units.
type PlaceBidCommand struct {
	AuctionID int64
	Bidder    string
	Asset     string
	Amount    *big.Int
}

// Bid is the accepted result: the raw deposit plus its canonical valuation at
// acceptance time.
type Bid struct {
	AuctionID int64
	Bidder    string
	Asset     string
	Amount    *big.Int
	Value     *big.Int // canonical units
	PlacedAt  time.Time
}

// BidPlacedEvent is the audit payload appended with each accepted bid. It
// carries the capture and the displaced bidder's refund as one logical event.
type BidPlacedEvent struct {
	AuctionID      int64     `json:"auction_id"`
	Bidder         string    `json:"bidder"`
	Asset          string    `json:"asset"`
	Amount         string    `json:"amount"`
	Value          string    `json:"value"`
	RefundedBidder string    `json:"refunded_bidder,omitempty"`
	RefundedAsset  string    `json:"refunded_asset,omitempty"`
	RefundedAmount string    `json:"refunded_amount,omitempty"`
	PlacedAt       time.Time `json:"placed_at"`
}
