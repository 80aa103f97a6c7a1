package escrow

import (
	"math/big"
	"time"
)

// Entry is custody bookkeeping for one bidder's deposit on one auction.
// Created on capture, deleted on refund or release; at most one live entry
// exists per auction (the current leader's).
type Entry struct {
	AuctionID int64
	Holder    string
	Asset     string
	Amount    *big.Int
	CreatedAt time.Time
}
