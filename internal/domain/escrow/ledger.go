package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openlots/lotledger/internal/domain/custody"
)

// ErrNoEscrow is returned when releasing an entry that does not exist.
var ErrNoEscrow = fmt.Errorf("no escrow entry for holder")

// Repository persists escrow entries. All mutations run inside the caller's
// transaction so bookkeeping commits together with the auction mutation.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, entry *Entry) error
	Get(ctx context.Context, tx pgx.Tx, auctionID int64, holder string) (*Entry, error)
	Delete(ctx context.Context, tx pgx.Tx, auctionID int64, holder string) error
}

// Ledger fuses custody transfers with escrow bookkeeping. Callers hold the
// auction row lock for the duration, so entries for one auction never race.
type Ledger struct {
	repo  Repository
	funds custody.FundsCustody
	now   func() time.Time
}

// NewLedger creates an escrow ledger.
func NewLedger(repo Repository, funds custody.FundsCustody) *Ledger {
	return &Ledger{
		repo:  repo,
		funds: funds,
		now:   time.Now,
	}
}

// Capture records an entry and pulls the deposit into custody. The row insert
// happens first: if the custody transfer is rejected the caller rolls the
// transaction back and no bookkeeping survives. If the transfer succeeds but
// the caller later fails, the caller owes the holder a compensating
// transfer-out before surfacing the error.
func (l *Ledger) Capture(ctx context.Context, tx pgx.Tx, auctionID int64, holder, asset string, amount *big.Int) error {
	entry := &Entry{
		AuctionID: auctionID,
		Holder:    holder,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: l.now(),
	}
	if err := l.repo.Insert(ctx, tx, entry); err != nil {
		return fmt.Errorf("failed to record escrow entry: %w", err)
	}

	if err := l.funds.TransferIn(ctx, asset, holder, amount); err != nil {
		return err
	}
	return nil
}

// Release removes the holder's entry and transfers the held asset/amount to
// the recipient, in kind, never converted. For a displaced-bidder refund the
// recipient is the holder; at settlement it is the seller. Fails with
// ErrNoEscrow when no entry exists.
func (l *Ledger) Release(ctx context.Context, tx pgx.Tx, auctionID int64, holder, to string) (*Entry, error) {
	entry, err := l.repo.Get(ctx, tx, auctionID, holder)
	if err != nil {
		return nil, err
	}

	if err := l.repo.Delete(ctx, tx, auctionID, holder); err != nil {
		return nil, fmt.Errorf("failed to remove escrow entry: %w", err)
	}

	if err := l.funds.TransferOut(ctx, entry.Asset, to, entry.Amount); err != nil {
		// The delete rolls back with the caller's transaction, so the entry
		// survives and the release can be retried.
		return nil, err
	}
	return entry, nil
}

// Refund refunds the held deposit back to the holder who made it.
func (l *Ledger) Refund(ctx context.Context, tx pgx.Tx, auctionID int64, holder string) (*Entry, error) {
	return l.Release(ctx, tx, auctionID, holder, holder)
}
