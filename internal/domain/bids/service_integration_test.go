//go:build integration

package bids_test

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infradb "github.com/openlots/lotledger/internal/adapters/database"
	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/bids"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/internal/domain/pricing"
	"github.com/openlots/lotledger/internal/testhelpers"
	"github.com/openlots/lotledger/pkg/database"
)

const (
	sellerAddr = "0xseller"
	bidderX    = "0xbidderX"
	bidderY    = "0xbidderY"
	bidderZ    = "0xbidderZ"
	tokenAsset = "0xtoken00000000000000000000000000000000001"
)

// testServices holds the bidding engine and its dependencies for testing.
type testServices struct {
	Service     *bids.Service
	Auctions    *auctions.Service
	AuctionRepo auctions.Repository
	FeedRepo    pricing.FeedRepository
	Custody     *testhelpers.FakeCustody
}

// setupBidService wires the bidding engine against a real database, a fake
// custody gateway, and a static price source: native at 1, the test token at
// 2 canonical units per raw token.
func setupBidService(pool *pgxpool.Pool) *testServices {
	txManager := database.NewPostgresTransactionManager(pool, 5*time.Second)
	auctionRepo := infradb.NewPostgresAuctionRepository(pool)
	escrowRepo := infradb.NewPostgresEscrowRepository(pool)
	feedRepo := infradb.NewPostgresFeedRepository(pool)
	outboxRepo := infradb.NewPostgresOutboxRepository(pool)

	fakeCustody := &testhelpers.FakeCustody{}
	source := &testhelpers.StaticFeedSource{Quotes: map[string]*pricing.Quote{
		auctions.NativeAsset: {Price: big.NewInt(1), Decimals: 0, UpdatedAt: time.Now()},
		tokenAsset:           {Price: big.NewInt(2), Decimals: 0, UpdatedAt: time.Now()},
	}}
	normalizer := pricing.NewNormalizer(feedRepo, source, time.Hour)

	escrowLedger := escrow.NewLedger(escrowRepo, fakeCustody)
	logger := slog.Default()

	return &testServices{
		Service:     bids.NewService(txManager, auctionRepo, escrowLedger, normalizer, fakeCustody, outboxRepo, logger),
		Auctions:    auctions.NewService(txManager, auctionRepo, outboxRepo, big.NewInt(1)),
		AuctionRepo: auctionRepo,
		FeedRepo:    feedRepo,
		Custody:     fakeCustody,
	}
}

func registerFeed(t *testing.T, repo pricing.FeedRepository, asset string, decimals int32) {
	t.Helper()
	err := repo.Upsert(context.Background(), &pricing.Registration{
		Asset:         asset,
		FeedURL:       "http://feeds.local/" + asset,
		AssetDecimals: decimals,
	})
	require.NoError(t, err)
}

func createAuction(t *testing.T, svc *auctions.Service, reserve int64) *auctions.Auction {
	t.Helper()
	auction, err := svc.Create(context.Background(), auctions.CreateAuctionCommand{
		Seller:        sellerAddr,
		Duration:      2 * time.Minute,
		ReservePrice:  big.NewInt(reserve),
		AssetContract: "0xnftcontract",
		AssetID:       7,
	})
	require.NoError(t, err)
	return auction
}

func TestPlaceBid_OutbidRefundsInKind(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)
	registerFeed(t, svc.FeedRepo, tokenAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)
	ctx := context.Background()

	// First bid: 101 native units, normalizes to 101.
	bid1, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(101),
	})
	require.NoError(t, err)
	assert.Equal(t, "101", bid1.Value.String())

	current, err := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, bidderX, current.HighestBidder)

	// Second bid: 51 tokens at price 2, normalizes to 102 and displaces X.
	bid2, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderY,
		Asset:     tokenAsset,
		Amount:    big.NewInt(51),
	})
	require.NoError(t, err)
	assert.Equal(t, "102", bid2.Value.String())

	current, err = svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, bidderY, current.HighestBidder)
	assert.Equal(t, "102", current.HighestBid.String())
	assert.Equal(t, tokenAsset, current.HighestBidAsset)

	// X got their exact native deposit back, not a conversion.
	refunds := svc.Custody.ByKind("out")
	require.Len(t, refunds, 1)
	assert.Equal(t, bidderX, refunds[0].Party)
	assert.Equal(t, auctions.NativeAsset, refunds[0].Asset)
	assert.Equal(t, "101", refunds[0].Amount.String())
}

func TestPlaceBid_LeaderRaisesOwnBid(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)
	ctx := context.Background()

	_, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(110),
	})
	require.NoError(t, err)

	// The standing leader raises their own bid. The old deposit must come
	// back before the new one is captured; the entry key is per holder.
	bid, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(120),
	})
	require.NoError(t, err)
	assert.Equal(t, "120", bid.Value.String())

	current, err := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, bidderX, current.HighestBidder)
	assert.Equal(t, "120", current.HighestBid.String())

	refunds := svc.Custody.ByKind("out")
	require.Len(t, refunds, 1)
	assert.Equal(t, bidderX, refunds[0].Party)
	assert.Equal(t, "110", refunds[0].Amount.String())

	// Exactly one escrow row survives, holding the raised deposit.
	var amount string
	err = testDB.Pool.QueryRow(ctx,
		"SELECT amount::text FROM escrow_entries WHERE auction_id = $1 AND holder = $2",
		auction.ID, bidderX).Scan(&amount)
	require.NoError(t, err)
	assert.Equal(t, "120", amount)
}

func TestPlaceBid_TooLowAgainstStandingBid(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)
	ctx := context.Background()

	_, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(150),
	})
	require.NoError(t, err)

	// A bid at exactly the reserve no longer beats the standing 150.
	_, err = svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderZ,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(100),
	})
	assert.ErrorIs(t, err, bids.ErrBidTooLow)

	// The rejected bidder's funds were never captured.
	captures := svc.Custody.ByKind("in")
	require.Len(t, captures, 1)
	assert.Equal(t, bidderX, captures[0].Party)
}

func TestPlaceBid_UnregisteredAssetThenRegistered(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)
	ctx := context.Background()

	cmd := bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     tokenAsset,
		Amount:    big.NewInt(60),
	}
	_, err := svc.Service.PlaceBid(ctx, cmd)
	assert.ErrorIs(t, err, pricing.ErrAssetNotSupported)

	// Same bid succeeds once the asset's feed is registered.
	registerFeed(t, svc.FeedRepo, tokenAsset, pricing.CanonicalDecimals)
	bid, err := svc.Service.PlaceBid(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, "120", bid.Value.String())
}

func TestPlaceBid_SellerRejected(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)

	_, err := svc.Service.PlaceBid(context.Background(), bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    sellerAddr,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(200),
	})
	assert.ErrorIs(t, err, bids.ErrSellerCannotBid)
	assert.Empty(t, svc.Custody.Transfers)
}

func TestPlaceBid_CaptureFailureRollsBack(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)
	ctx := context.Background()

	svc.Custody.FailTransferIn = true
	_, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(200),
	})
	require.Error(t, err)

	// Nothing of the failed bid survives: no leader, no escrow row.
	current, err := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.False(t, current.HasBid())

	var escrowCount int
	err = testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM escrow_entries WHERE auction_id = $1", auction.ID).Scan(&escrowCount)
	require.NoError(t, err)
	assert.Zero(t, escrowCount)
}

func TestPlaceBid_ExpiredWindow(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupBidService(testDB.Pool)
	registerFeed(t, svc.FeedRepo, auctions.NativeAsset, pricing.CanonicalDecimals)

	auction := createAuction(t, svc.Auctions, 100)

	svc.Service.WithClock(func() time.Time { return auction.EndTime.Add(time.Second) })
	_, err := svc.Service.PlaceBid(context.Background(), bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    bidderX,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(200),
	})
	assert.ErrorIs(t, err, bids.ErrAuctionExpired)
}
