package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/custody"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/pkg/database"
	"github.com/openlots/lotledger/pkg/events"
)

// ErrNotExpired is returned when settlement is attempted before the auction's
// end time.
var ErrNotExpired = fmt.Errorf("auction has not expired yet")

// AuctionEndedEvent is the audit payload appended at settlement. For a no-bid
// auction the winner fields are empty and nothing was transferred.
type AuctionEndedEvent struct {
	AuctionID     int64     `json:"auction_id"`
	Seller        string    `json:"seller"`
	Winner        string    `json:"winner,omitempty"`
	WinningValue  string    `json:"winning_value,omitempty"`
	ProceedsAsset string    `json:"proceeds_asset,omitempty"`
	ProceedsPaid  string    `json:"proceeds_paid,omitempty"`
	SettledAt     time.Time `json:"settled_at"`
}

// Service finalizes expired auctions. EndAuction is permissionless: its
// effects depend only on stored state.
type Service struct {
	txManager    database.TransactionManager
	auctionRepo  auctions.Repository
	escrowLedger *escrow.Ledger
	nft          custody.NFTCustody
	funds        custody.FundsCustody
	outboxRepo   events.OutboxRepository
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates the settlement engine.
func NewService(
	txManager database.TransactionManager,
	auctionRepo auctions.Repository,
	escrowLedger *escrow.Ledger,
	nft custody.NFTCustody,
	funds custody.FundsCustody,
	outboxRepo events.OutboxRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		txManager:    txManager,
		auctionRepo:  auctionRepo,
		escrowLedger: escrowLedger,
		nft:          nft,
		funds:        funds,
		outboxRepo:   outboxRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the settlement clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EndAuction settles one auction: the non-fungible asset goes to the winner,
// the winning deposit goes to the seller in kind, and the auction is marked
// ended, all in one row-locked transaction. A custody failure rolls
// everything back with ended still false, so settlement can be retried. With
// no accepted bid the asset stays with the seller and nothing moves.
func (s *Service) EndAuction(ctx context.Context, auctionID int64) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := s.auctionRepo.GetForUpdate(ctx, tx, auctionID)
	if err != nil {
		return err
	}

	if auction.Ended {
		return auctions.ErrAlreadyEnded
	}
	settledAt := s.now()
	if settledAt.Before(auction.EndTime) {
		return ErrNotExpired
	}

	event := AuctionEndedEvent{
		AuctionID: auction.ID,
		Seller:    auction.Seller,
		SettledAt: settledAt,
	}

	if auction.HasBid() {
		// Asset to the winner first; the proceeds release commits or fails
		// with it.
		if err := s.nft.TransferAsset(ctx, auction.AssetContract, auction.AssetID, auction.Seller, auction.HighestBidder); err != nil {
			return err
		}

		proceeds, err := s.escrowLedger.Release(ctx, tx, auction.ID, auction.HighestBidder, auction.Seller)
		if err != nil {
			s.compensateAssetTransfer(ctx, auction)
			return err
		}

		event.Winner = auction.HighestBidder
		event.WinningValue = auction.HighestBid.String()
		event.ProceedsAsset = proceeds.Asset
		event.ProceedsPaid = proceeds.Amount.String()

		// Past this point both external transfers have happened. A failure
		// rolls the escrow delete back, so both legs must be reversed or a
		// retried settlement would pay the seller twice.
		if err := s.finish(ctx, tx, auction.ID, event, settledAt); err != nil {
			s.compensateProceeds(ctx, auction, proceeds)
			s.compensateAssetTransfer(ctx, auction)
			return err
		}
		return nil
	}

	return s.finish(ctx, tx, auction.ID, event, settledAt)
}

// finish marks the auction ended, appends the audit event, and commits.
func (s *Service) finish(ctx context.Context, tx pgx.Tx, auctionID int64, event AuctionEndedEvent, settledAt time.Time) error {
	if err := s.auctionRepo.MarkEnded(ctx, tx, auctionID, settledAt); err != nil {
		return fmt.Errorf("failed to mark auction ended: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.EventTypeAuctionEnded,
		Payload:   payload,
		Status:    events.OutboxStatusPending,
		CreatedAt: settledAt,
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) compensateProceeds(ctx context.Context, auction *auctions.Auction, proceeds *escrow.Entry) {
	if err := s.funds.TransferIn(ctx, proceeds.Asset, auction.Seller, proceeds.Amount); err != nil {
		s.logger.Error("compensating proceeds recapture failed; seller paid while escrow entry survives",
			"auction_id", auction.ID, "seller", auction.Seller, "asset", proceeds.Asset,
			"amount", proceeds.Amount.String(), "error", err)
	}
}

func (s *Service) compensateAssetTransfer(ctx context.Context, auction *auctions.Auction) {
	if err := s.nft.TransferAsset(ctx, auction.AssetContract, auction.AssetID, auction.HighestBidder, auction.Seller); err != nil {
		s.logger.Error("compensating asset transfer failed; settlement must be reconciled manually",
			"auction_id", auction.ID, "asset_contract", auction.AssetContract,
			"asset_id", auction.AssetID, "error", err)
	}
}
