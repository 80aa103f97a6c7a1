package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/openlots/lotledger/internal/adapters/database"
	pkgdb "github.com/openlots/lotledger/pkg/database"
	pkgevents "github.com/openlots/lotledger/pkg/events"
)

// Exchange is the topic exchange ledger audit events are published to; the
// routing key is the event type.
const Exchange = "ledger.events"

// LedgerEventsProducer relays ledger audit events from the outbox to RabbitMQ.
type LedgerEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
}

// NewLedgerEventsProducer creates a new producer.
func NewLedgerEventsProducer(pool *pgxpool.Pool, conn *amqp.Connection, logger *slog.Logger) (*LedgerEventsProducer, error) {
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		10,                   // batch size
		500*time.Millisecond, // polling interval
		Exchange,
		logger,
	)

	return &LedgerEventsProducer{
		relay:     relay,
		publisher: publisher,
	}, nil
}

// Run starts the relay loop
func (p *LedgerEventsProducer) Run(ctx context.Context) error {
	return p.relay.Run(ctx)
}

// Close closes the publisher channel
func (p *LedgerEventsProducer) Close() error {
	return p.publisher.Close()
}
