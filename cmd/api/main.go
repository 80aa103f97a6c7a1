package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/openlots/lotledger/internal/adapters/api"
	custodygw "github.com/openlots/lotledger/internal/adapters/custody"
	"github.com/openlots/lotledger/internal/adapters/database"
	"github.com/openlots/lotledger/internal/adapters/feeds"
	"github.com/openlots/lotledger/internal/domain/admin"
	"github.com/openlots/lotledger/internal/domain/auctions"
	"github.com/openlots/lotledger/internal/domain/bids"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/internal/domain/pricing"
	"github.com/openlots/lotledger/internal/domain/settlement"
	"github.com/openlots/lotledger/pkg/auth"
	pkgdb "github.com/openlots/lotledger/pkg/database"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx := context.Background()

	// 1. Postgres connection pool
	dbURL := os.Getenv("LEDGER_DB_URL")
	if dbURL == "" {
		logger.Error("LEDGER_DB_URL is not set")
		os.Exit(1)
	}

	dbConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// 2. Run migrations. Deploying a new logic version over the same database
	// is the upgrade path; the schema only ever grows.
	migrationsDir := envOr("MIGRATIONS_DIR", "migrations")
	if err := runMigrations(dbURL, migrationsDir); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("Migrations up to date", "dir", migrationsDir)

	// 3. Redis price cache (optional; pricing degrades to direct feed reads)
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, price cache disabled", "error", err)
			rdb = nil
		} else {
			logger.Info("Redis Connected")
		}
	}

	// 4. Custody gateway
	custodyURL := os.Getenv("CUSTODY_URL")
	if custodyURL == "" {
		logger.Error("CUSTODY_URL is not set")
		os.Exit(1)
	}
	gateway := custodygw.NewGateway(custodyURL, 10*time.Second)

	// 5. Admin signer
	signer, err := auth.NewSigner(
		[]byte(os.Getenv("JWT_PRIVATE_KEY")),
		[]byte(os.Getenv("JWT_PUBLIC_KEY")),
		"lotledger",
		15*time.Minute,
	)
	if err != nil {
		logger.Error("Failed to create token signer", "error", err)
		os.Exit(1)
	}

	// 6. Repositories
	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	auctionRepo := database.NewPostgresAuctionRepository(pool)
	escrowRepo := database.NewPostgresEscrowRepository(pool)
	feedRepo := database.NewPostgresFeedRepository(pool)
	configRepo := database.NewPostgresConfigRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	// 7. Domain services
	adminService := admin.NewService(configRepo, signer)

	tolerance, err := time.ParseDuration(envOr("FEED_STALENESS_TOLERANCE", "5m"))
	if err != nil {
		logger.Error("Invalid FEED_STALENESS_TOLERANCE", "error", err)
		os.Exit(1)
	}

	var feedSource pricing.FeedSource = feeds.NewHTTPFeedSource(5 * time.Second)
	if rdb != nil {
		feedSource = feeds.NewCachedFeedSource(feedSource, rdb, tolerance/2, logger)
	}
	normalizer := pricing.NewNormalizer(feedRepo, feedSource, tolerance)
	feedRegistry := pricing.NewRegistry(feedRepo, adminService)

	minReserve, ok := new(big.Int).SetString(envOr("MIN_RESERVE", "1"), 10)
	if !ok {
		logger.Error("Invalid MIN_RESERVE")
		os.Exit(1)
	}

	escrowLedger := escrow.NewLedger(escrowRepo, gateway)
	auctionService := auctions.NewService(txManager, auctionRepo, outboxRepo, minReserve)
	bidService := bids.NewService(txManager, auctionRepo, escrowLedger, normalizer, gateway, outboxRepo, logger)
	settlementService := settlement.NewService(txManager, auctionRepo, escrowLedger, gateway, gateway, outboxRepo, logger)

	// 8. One-time initialization. A restart or a new logic version finds the
	// config row already present and carries on.
	if err := bootstrap(ctx, adminService, feedRegistry, configRepo, logger); err != nil {
		logger.Error("Bootstrap failed", "error", err)
		os.Exit(1)
	}

	// 9. HTTP server
	handler := api.NewHandler(auctionService, bidService, settlementService, feedRegistry, adminService, logger)
	router := api.NewRouter(handler, signer)

	addr := envOr("ADDR", ":8080")
	logger.Info("Starting Lot Ledger API", "addr", addr)

	// h2c for HTTP/2 without TLS (internal services / local dev)
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap runs the init-once setup and pre-registers the native currency
// feed so native bids work from the first block of time.
func bootstrap(ctx context.Context, adminService *admin.Service, feedRegistry *pricing.Registry, configRepo *database.PostgresConfigRepository, logger *slog.Logger) error {
	adminAddress := os.Getenv("ADMIN_ADDRESS")
	bootstrapSecret := os.Getenv("ADMIN_BOOTSTRAP_SECRET")

	err := adminService.Initialize(ctx, adminAddress, bootstrapSecret)
	switch {
	case err == nil:
		logger.Info("Ledger initialized", "admin", adminAddress)
	case errors.Is(err, admin.ErrAlreadyInitialized):
		logger.Info("Ledger already initialized")
	default:
		return err
	}

	nativeFeedURL := os.Getenv("NATIVE_FEED_URL")
	if nativeFeedURL == "" {
		return nil
	}

	cfg, err := configRepo.Get(ctx)
	if err != nil {
		return err
	}
	if err := feedRegistry.RegisterFeed(ctx, cfg.AdminAddress, auctions.NativeAsset, nativeFeedURL, pricing.CanonicalDecimals); err != nil {
		return err
	}
	logger.Info("Native currency feed registered", "url", nativeFeedURL)
	return nil
}

func runMigrations(dbURL, dir string) error {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, dir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
