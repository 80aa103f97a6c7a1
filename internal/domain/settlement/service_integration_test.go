//go:build integration

package settlement_test

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
	"github.com/openlots/lotledger/internal/domain/settlement"
	"github.com/openlots/lotledger/internal/testhelpers"
	"github.com/openlots/lotledger/pkg/database"
)

const (
	sellerAddr = "0xseller"
	winnerAddr = "0xwinner"
)

type testServices struct {
	Settlement  *settlement.Service
	Bids        *bids.Service
	Auctions    *auctions.Service
	AuctionRepo auctions.Repository
	Custody     *testhelpers.FakeCustody
}

func setupSettlement(t *testing.T, pool *pgxpool.Pool) *testServices {
	t.Helper()

	txManager := database.NewPostgresTransactionManager(pool, 5*time.Second)
	auctionRepo := infradb.NewPostgresAuctionRepository(pool)
	escrowRepo := infradb.NewPostgresEscrowRepository(pool)
	feedRepo := infradb.NewPostgresFeedRepository(pool)
	outboxRepo := infradb.NewPostgresOutboxRepository(pool)

	fakeCustody := &testhelpers.FakeCustody{}
	source := &testhelpers.StaticFeedSource{Quotes: map[string]*pricing.Quote{
		auctions.NativeAsset: {Price: big.NewInt(1), Decimals: 0, UpdatedAt: time.Now()},
	}}
	normalizer := pricing.NewNormalizer(feedRepo, source, time.Hour)
	escrowLedger := escrow.NewLedger(escrowRepo, fakeCustody)
	logger := slog.Default()

	err := feedRepo.Upsert(context.Background(), &pricing.Registration{
		Asset:         auctions.NativeAsset,
		FeedURL:       "http://feeds.local/native",
		AssetDecimals: pricing.CanonicalDecimals,
	})
	require.NoError(t, err)

	return &testServices{
		Settlement:  settlement.NewService(txManager, auctionRepo, escrowLedger, fakeCustody, fakeCustody, outboxRepo, logger),
		Bids:        bids.NewService(txManager, auctionRepo, escrowLedger, normalizer, fakeCustody, outboxRepo, logger),
		Auctions:    auctions.NewService(txManager, auctionRepo, outboxRepo, big.NewInt(1)),
		AuctionRepo: auctionRepo,
		Custody:     fakeCustody,
	}
}

// createAuctionWithBid returns an auction that has an accepted 200-unit
// native bid from winnerAddr.
func createAuctionWithBid(t *testing.T, svc *testServices) *auctions.Auction {
	t.Helper()
	ctx := context.Background()

	auction, err := svc.Auctions.Create(ctx, auctions.CreateAuctionCommand{
		Seller:        sellerAddr,
		Duration:      2 * time.Minute,
		ReservePrice:  big.NewInt(100),
		AssetContract: "0xnftcontract",
		AssetID:       42,
	})
	require.NoError(t, err)

	_, err = svc.Bids.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID: auction.ID,
		Bidder:    winnerAddr,
		Asset:     auctions.NativeAsset,
		Amount:    big.NewInt(200),
	})
	require.NoError(t, err)
	return auction
}

func TestEndAuction_PaysOutWinner(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupSettlement(t, testDB.Pool)
	auction := createAuctionWithBid(t, svc)
	ctx := context.Background()

	// Before the end time settlement is rejected.
	err := svc.Settlement.EndAuction(ctx, auction.ID)
	assert.ErrorIs(t, err, settlement.ErrNotExpired)

	svc.Settlement.WithClock(func() time.Time { return auction.EndTime.Add(time.Second) })
	require.NoError(t, svc.Settlement.EndAuction(ctx, auction.ID))

	settled, err := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.True(t, settled.Ended)
	require.NotNil(t, settled.SettledAt)

	// The asset went to the winner.
	assetMoves := svc.Custody.ByKind("asset")
	require.Len(t, assetMoves, 1)
	assert.Equal(t, sellerAddr, assetMoves[0].From)
	assert.Equal(t, winnerAddr, assetMoves[0].To)
	assert.Equal(t, int64(42), assetMoves[0].TokenID)

	// The winning deposit went to the seller in its original asset.
	payouts := svc.Custody.ByKind("out")
	require.Len(t, payouts, 1)
	assert.Equal(t, sellerAddr, payouts[0].Party)
	assert.Equal(t, auctions.NativeAsset, payouts[0].Asset)
	assert.Equal(t, "200", payouts[0].Amount.String())

	// The winner's escrow entry is gone.
	var escrowCount int
	err = testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM escrow_entries WHERE auction_id = $1", auction.ID).Scan(&escrowCount)
	require.NoError(t, err)
	assert.Zero(t, escrowCount)
}

func TestEndAuction_NoBidsTransfersNothing(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupSettlement(t, testDB.Pool)
	ctx := context.Background()

	auction, err := svc.Auctions.Create(ctx, auctions.CreateAuctionCommand{
		Seller:        sellerAddr,
		Duration:      time.Minute,
		ReservePrice:  big.NewInt(100),
		AssetContract: "0xnftcontract",
		AssetID:       42,
	})
	require.NoError(t, err)

	svc.Settlement.WithClock(func() time.Time { return auction.EndTime.Add(time.Second) })
	require.NoError(t, svc.Settlement.EndAuction(ctx, auction.ID))

	settled, err := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.True(t, settled.Ended)
	assert.Empty(t, svc.Custody.Transfers)
}

func TestEndAuction_SecondCallRejected(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupSettlement(t, testDB.Pool)
	auction := createAuctionWithBid(t, svc)
	ctx := context.Background()

	svc.Settlement.WithClock(func() time.Time { return auction.EndTime.Add(time.Second) })
	require.NoError(t, svc.Settlement.EndAuction(ctx, auction.ID))

	err := svc.Settlement.EndAuction(ctx, auction.ID)
	assert.ErrorIs(t, err, auctions.ErrAlreadyEnded)

	// No second payout happened.
	assert.Len(t, svc.Custody.ByKind("out"), 1)
	assert.Len(t, svc.Custody.ByKind("asset"), 1)
}

func TestPoller_SettlesExpiredAuctions(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupSettlement(t, testDB.Pool)
	ctx := context.Background()

	// Create an auction whose window is already over.
	past := time.Now().Add(-time.Hour)
	svc.Auctions.WithClock(func() time.Time { return past })
	auction, err := svc.Auctions.Create(ctx, auctions.CreateAuctionCommand{
		Seller:        sellerAddr,
		Duration:      time.Minute,
		ReservePrice:  big.NewInt(100),
		AssetContract: "0xnftcontract",
		AssetID:       42,
	})
	require.NoError(t, err)

	poller := settlement.NewPoller(svc.Settlement, svc.AuctionRepo, 10, 50*time.Millisecond, slog.Default())

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = poller.Run(pollCtx)
	}()

	require.Eventually(t, func() bool {
		got, getErr := svc.AuctionRepo.Get(ctx, auction.ID)
		return getErr == nil && got.Ended
	}, 5*time.Second, 100*time.Millisecond, "poller should settle the expired auction")
}

func TestEndAuction_EscrowReleaseFailureRollsBack(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()

	svc := setupSettlement(t, testDB.Pool)
	auction := createAuctionWithBid(t, svc)
	ctx := context.Background()

	svc.Settlement.WithClock(func() time.Time { return auction.EndTime.Add(time.Second) })
	svc.Custody.FailTransferOut = true
	err := svc.Settlement.EndAuction(ctx, auction.ID)
	require.Error(t, err)

	// The auction stays open and the escrow entry survives, so settlement
	// can be retried.
	current, getErr := svc.AuctionRepo.Get(ctx, auction.ID)
	require.NoError(t, getErr)
	assert.False(t, current.Ended)

	var escrowCount int
	err = testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM escrow_entries WHERE auction_id = $1", auction.ID).Scan(&escrowCount)
	require.NoError(t, err)
	assert.Equal(t, 1, escrowCount)

	svc.Custody.FailTransferOut = false
	require.NoError(t, svc.Settlement.EndAuction(ctx, auction.ID))
}
