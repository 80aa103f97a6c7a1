//go:build integration

package events_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/openlots/lotledger/internal/adapters/events"
	"github.com/openlots/lotledger/internal/testhelpers"
	pkgevents "github.com/openlots/lotledger/pkg/events"
)

// TestProducerIntegrationWithRabbitMQ relays a seeded outbox event through a
// real RabbitMQ container and verifies delivery plus the status flip.
func TestProducerIntegrationWithRabbitMQ(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
		rabbitmq.WithAdminPassword("password"),
	)
	require.NoError(t, err)
	defer func() {
		if termErr := rabbitmqContainer.Terminate(ctx); termErr != nil {
			t.Fatalf("failed to terminate container: %s", termErr)
		}
	}()

	amqpURL, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	testDB := testhelpers.NewTestDatabase(t, "../../../migrations")
	defer testDB.Close()
	dbPool := testDB.Pool

	pubConn, err := amqp091.Dial(amqpURL)
	require.NoError(t, err)
	defer pubConn.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	producer, err := events.NewLedgerEventsProducer(dbPool, pubConn, logger)
	require.NoError(t, err)
	defer producer.Close()

	// Separate consumer connection to verify delivery
	conn, err := amqp091.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	err = ch.ExchangeDeclare(events.Exchange, "topic", true, false, false, false, nil)
	require.NoError(t, err)

	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	require.NoError(t, err)

	err = ch.QueueBind(q.Name, pkgevents.EventTypeBidPlaced, events.Exchange, false, nil)
	require.NoError(t, err)

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	eventID := uuid.New()
	expectedPayload := []byte(`{"test":"integration"}`)
	query := `
		INSERT INTO outbox_events (id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = dbPool.Exec(ctx, query,
		eventID,
		pkgevents.EventTypeBidPlaced,
		expectedPayload,
		pkgevents.OutboxStatusPending,
		time.Now(),
	)
	require.NoError(t, err)

	ctxRelay, cancelRelay := context.WithCancel(ctx)
	go func() {
		_ = producer.Run(ctxRelay)
	}()
	defer cancelRelay()

	select {
	case msg := <-msgs:
		assert.Equal(t, expectedPayload, msg.Body)
		assert.Equal(t, pkgevents.EventTypeBidPlaced, msg.RoutingKey)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for message from RabbitMQ")
	}

	require.Eventually(t, func() bool {
		var status string
		err = dbPool.QueryRow(ctx, "SELECT status FROM outbox_events WHERE id = $1", eventID).Scan(&status)
		if err != nil {
			return false
		}
		return status == string(pkgevents.OutboxStatusPublished)
	}, 2*time.Second, 100*time.Millisecond, "Event status should be updated to 'published'")
}
