package bids

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/custody"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/internal/domain/pricing"
	"github.com/openlots/lotledger/pkg/database"
	"github.com/openlots/lotledger/pkg/events"
)

// Validation errors
var (
	ErrInvalidAmount   = fmt.Errorf("bid amount must be positive")
	ErrAuctionExpired  = fmt.Errorf("auction bidding window has closed")
	ErrSellerCannotBid = fmt.Errorf("seller cannot bid on their own auction")
	ErrBidTooLow       = fmt.Errorf("bid value must beat the current highest bid and meet the reserve")
)

// validateAuctionOpen checks the bidding window against the call-time clock.
func validateAuctionOpen(now, endTime time.Time, ended bool) error {
	if ended {
		return auctions.ErrAlreadyEnded
	}
	if !now.Before(endTime) {
		return ErrAuctionExpired
	}
	return nil
}

// validateBidValue enforces strict improvement over the current highest bid,
// and the reserve price until the first bid is accepted. All values are in
// canonical units.
func validateBidValue(candidate, currentHighest, reserve *big.Int, hasBid bool) error {
	if candidate.Cmp(currentHighest) <= 0 {
		return ErrBidTooLow
	}
	if !hasBid && candidate.Cmp(reserve) < 0 {
		return ErrBidTooLow
	}
	return nil
}

// Service is the bidding engine. PlaceBid runs as one row-locked database
// transaction: normalization, escrow capture, displaced-bidder refund,
// registry mutation, and the audit event commit or roll back together.
type Service struct {
	txManager    database.TransactionManager
	auctionRepo  auctions.Repository
	escrowLedger *escrow.Ledger
	normalizer   *pricing.Normalizer
	funds        custody.FundsCustody
	outboxRepo   events.OutboxRepository
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates the bidding engine.
func NewService(
	txManager database.TransactionManager,
	auctionRepo auctions.Repository,
	escrowLedger *escrow.Ledger,
	normalizer *pricing.Normalizer,
	funds custody.FundsCustody,
	outboxRepo events.OutboxRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		txManager:    txManager,
		auctionRepo:  auctionRepo,
		escrowLedger: escrowLedger,
		normalizer:   normalizer,
		funds:        funds,
		outboxRepo:   outboxRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the bidding clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PlaceBid validates and applies a bid.
//
// The auction row lock acquired up front serializes every call touching the
// same auction, including while the external feed and custody calls are in
// flight, so a reentrant call cannot observe a half-applied bid. Any failure
// rolls the transaction back; if the deposit had already been pulled into
// custody, a compensating transfer-out is attempted before the error is
// returned.
func (s *Service) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*Bid, error) {
	if cmd.Amount == nil || cmd.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := s.auctionRepo.GetForUpdate(ctx, tx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}

	if cmd.Bidder == auction.Seller {
		return nil, ErrSellerCannotBid
	}
	if valErr := validateAuctionOpen(s.now(), auction.EndTime, auction.Ended); valErr != nil {
		return nil, valErr
	}

	candidate, err := s.normalizer.Normalize(ctx, cmd.Asset, cmd.Amount)
	if err != nil {
		return nil, err
	}
	if valErr := validateBidValue(candidate, auction.HighestBid, auction.ReservePrice, auction.HasBid()); valErr != nil {
		return nil, valErr
	}

	// A leader raising their own bid must clear their live entry first: the
	// escrow key is (auction, holder), so the old deposit goes back before
	// the new one is captured.
	var refunded *escrow.Entry
	selfOutbid := auction.HasBid() && cmd.Bidder == auction.HighestBidder
	if selfOutbid {
		refunded, err = s.escrowLedger.Refund(ctx, tx, auction.ID, auction.HighestBidder)
		if err != nil {
			return nil, err
		}
	}

	// Capture moves the deposit into custody. Everything after this point must
	// compensate on failure: the transaction rollback restores the escrow
	// rows, so any external transfer already made has to be reversed or the
	// surviving rows would release the same funds twice.
	if err := s.escrowLedger.Capture(ctx, tx, auction.ID, cmd.Bidder, cmd.Asset, cmd.Amount); err != nil {
		s.compensateRefund(ctx, cmd.AuctionID, refunded)
		return nil, err
	}

	if !selfOutbid && auction.HasBid() {
		refunded, err = s.escrowLedger.Refund(ctx, tx, auction.ID, auction.HighestBidder)
		if err != nil {
			s.compensateCapture(ctx, cmd)
			return nil, err
		}
	}

	bid, err := s.applyBid(ctx, tx, auction, cmd, candidate, refunded)
	if err != nil {
		s.compensateCapture(ctx, cmd)
		s.compensateRefund(ctx, cmd.AuctionID, refunded)
		return nil, err
	}
	return bid, nil
}

// applyBid mutates the registry, appends the audit event, and commits. The
// new deposit is already in custody and the displaced leader (possibly the
// caller) already refunded.
func (s *Service) applyBid(ctx context.Context, tx pgx.Tx, auction *auctions.Auction, cmd PlaceBidCommand, candidate *big.Int, refunded *escrow.Entry) (*Bid, error) {
	placedAt := s.now()
	event := BidPlacedEvent{
		AuctionID: auction.ID,
		Bidder:    cmd.Bidder,
		Asset:     cmd.Asset,
		Amount:    cmd.Amount.String(),
		Value:     candidate.String(),
		PlacedAt:  placedAt,
	}
	if refunded != nil {
		event.RefundedBidder = refunded.Holder
		event.RefundedAsset = refunded.Asset
		event.RefundedAmount = refunded.Amount.String()
	}

	if err := s.auctionRepo.UpdateHighestBid(ctx, tx, auction.ID, cmd.Bidder, candidate, cmd.Asset, cmd.Amount); err != nil {
		return nil, fmt.Errorf("failed to update highest bid: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.EventTypeBidPlaced,
		Payload:   payload,
		Status:    events.OutboxStatusPending,
		CreatedAt: placedAt,
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Bid{
		AuctionID: auction.ID,
		Bidder:    cmd.Bidder,
		Asset:     cmd.Asset,
		Amount:    new(big.Int).Set(cmd.Amount),
		Value:     candidate,
		PlacedAt:  placedAt,
	}, nil
}

func (s *Service) compensateCapture(ctx context.Context, cmd PlaceBidCommand) {
	if err := s.funds.TransferOut(ctx, cmd.Asset, cmd.Bidder, cmd.Amount); err != nil {
		s.logger.Error("compensating refund failed; deposit stranded in custody",
			"auction_id", cmd.AuctionID, "bidder", cmd.Bidder, "asset", cmd.Asset,
			"amount", cmd.Amount.String(), "error", err)
	}
}

// compensateRefund pulls an already-paid refund back into custody after the
// transaction rolled back. The rollback revives the escrow row, so without
// the reverse transfer the holder would keep the payout and still be owed
// the row.
func (s *Service) compensateRefund(ctx context.Context, auctionID int64, refunded *escrow.Entry) {
	if refunded == nil {
		return
	}
	if err := s.funds.TransferIn(ctx, refunded.Asset, refunded.Holder, refunded.Amount); err != nil {
		s.logger.Error("compensating recapture failed; refund paid while escrow entry survives",
			"auction_id", auctionID, "holder", refunded.Holder, "asset", refunded.Asset,
			"amount", refunded.Amount.String(), "error", err)
	}
}
