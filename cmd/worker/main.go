package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	custodygw "github.com/openlots/lotledger/internal/adapters/custody"
	"github.com/openlots/lotledger/internal/adapters/database"
	"github.com/openlots/lotledger/internal/adapters/events"
	"github.com/openlots/lotledger/internal/domain/admin"
	"github.com/openlots/lotledger/internal/domain/escrow"
	"github.com/openlots/lotledger/internal/domain/settlement"
	pkgdb "github.com/openlots/lotledger/pkg/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := os.Getenv("LEDGER_DB_URL")
	if dbURL == "" {
		logger.Error("LEDGER_DB_URL is not set")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("Unable to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// Both binaries converge the schema at boot; whichever starts first wins
	// and the other finds nothing left to apply.
	migrationsDir := envOr("MIGRATIONS_DIR", "migrations")
	if err := runMigrations(dbURL, migrationsDir); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("Migrations up to date", "dir", migrationsDir)

	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		logger.Error("RABBITMQ_URL is not set")
		os.Exit(1)
	}

	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		logger.Error("Unable to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("RabbitMQ Connected")

	custodyURL := os.Getenv("CUSTODY_URL")
	if custodyURL == "" {
		logger.Error("CUSTODY_URL is not set")
		os.Exit(1)
	}
	gateway := custodygw.NewGateway(custodyURL, 10*time.Second)

	producer, err := events.NewLedgerEventsProducer(pool, conn, logger)
	if err != nil {
		logger.Error("Unable to create events producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	auctionRepo := database.NewPostgresAuctionRepository(pool)
	escrowRepo := database.NewPostgresEscrowRepository(pool)
	configRepo := database.NewPostgresConfigRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	// The worker never issues tokens, so the admin service runs without a
	// signer. Initialization is idempotent; the API may already have run it.
	if err := bootstrap(ctx, admin.NewService(configRepo, nil), logger); err != nil {
		logger.Error("Bootstrap failed", "error", err)
		os.Exit(1)
	}

	escrowLedger := escrow.NewLedger(escrowRepo, gateway)
	settlementService := settlement.NewService(txManager, auctionRepo, escrowLedger, gateway, gateway, outboxRepo, logger)

	pollInterval, err := time.ParseDuration(envOr("SETTLE_POLL_INTERVAL", "10s"))
	if err != nil {
		logger.Error("Invalid SETTLE_POLL_INTERVAL", "error", err)
		os.Exit(1)
	}
	poller := settlement.NewPoller(settlementService, auctionRepo, 50, pollInterval, logger)

	logger.Info("Starting Lot Ledger worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return producer.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shut down")
}

func bootstrap(ctx context.Context, adminService *admin.Service, logger *slog.Logger) error {
	err := adminService.Initialize(ctx, os.Getenv("ADMIN_ADDRESS"), os.Getenv("ADMIN_BOOTSTRAP_SECRET"))
	switch {
	case err == nil:
		logger.Info("Ledger initialized", "admin", os.Getenv("ADMIN_ADDRESS"))
	case errors.Is(err, admin.ErrAlreadyInitialized):
		logger.Info("Ledger already initialized")
	default:
		return err
	}
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
