package auctions

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/openlots/lotledger/pkg/database"
	"github.com/openlots/lotledger/pkg/events"
)

// Validation errors
var (
	ErrNotFound        = fmt.Errorf("auction not found")
	ErrAlreadyEnded    = fmt.Errorf("auction already ended")
	ErrInvalidDuration = fmt.Errorf("auction duration must be positive")
	ErrReserveTooLow   = fmt.Errorf("reserve price below configured minimum")
)

// AuctionCreatedEvent is the audit payload appended when an auction is created.
type AuctionCreatedEvent struct {
	AuctionID     int64     `json:"auction_id"`
	Seller        string    `json:"seller"`
	AssetContract string    `json:"asset_contract"`
	AssetID       int64     `json:"asset_id"`
	ReservePrice  string    `json:"reserve_price"`
	EndTime       time.Time `json:"end_time"`
}

// Service is the auction registry: it owns creation and reads. Highest-bid
// mutation and settlement are performed by the bids and settlement services
// through the shared Repository.
type Service struct {
	txManager  database.TransactionManager
	repo       Repository
	outboxRepo events.OutboxRepository
	minReserve *big.Int
	now        func() time.Time
}

// NewService creates the registry service. minReserve is the configured lower
// bound for reserve prices, in canonical units.
func NewService(txManager database.TransactionManager, repo Repository, outboxRepo events.OutboxRepository, minReserve *big.Int) *Service {
	if minReserve == nil {
		minReserve = big.NewInt(1)
	}
	return &Service{
		txManager:  txManager,
		repo:       repo,
		outboxRepo: outboxRepo,
		minReserve: minReserve,
		now:        time.Now,
	}
}

// WithClock overrides the registry clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and persists a new auction, assigning its sequential id.
func (s *Service) Create(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	if cmd.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if cmd.ReservePrice == nil || cmd.ReservePrice.Cmp(s.minReserve) < 0 {
		return nil, ErrReserveTooLow
	}
	if cmd.Seller == "" {
		return nil, fmt.Errorf("seller address is required")
	}
	if cmd.AssetContract == "" {
		return nil, fmt.Errorf("asset contract is required")
	}

	start := s.now()
	auction := &Auction{
		Seller:           cmd.Seller,
		AssetContract:    cmd.AssetContract,
		AssetID:          cmd.AssetID,
		StartTime:        start,
		Duration:         cmd.Duration,
		EndTime:          start.Add(cmd.Duration),
		ReservePrice:     new(big.Int).Set(cmd.ReservePrice),
		HighestBid:       new(big.Int),
		HighestBidAmount: new(big.Int),
		CreatedAt:        start,
		UpdatedAt:        start,
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := s.repo.Create(ctx, tx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	payload, err := json.Marshal(AuctionCreatedEvent{
		AuctionID:     auction.ID,
		Seller:        auction.Seller,
		AssetContract: auction.AssetContract,
		AssetID:       auction.AssetID,
		ReservePrice:  auction.ReservePrice.String(),
		EndTime:       auction.EndTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.EventTypeAuctionCreated,
		Payload:   payload,
		Status:    events.OutboxStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return auction, nil
}

// Get retrieves an auction by id.
func (s *Service) Get(ctx context.Context, id int64) (*Auction, error) {
	return s.repo.Get(ctx, id)
}
