package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox/payloads"
)

func TestServiceEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEscrowFunded,
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   accountID,
			Actor:         &ActorRef{Role: RoleGateway},
			Data:          payloads.EscrowFundedEvent{VirtualAccountID: accountID, Amount: 100000},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.Equal(t, RoleGateway, envelope.Actor.Role)

	var data payloads.EscrowFundedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, int64(100000), data.Amount)
}

func TestServiceEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestServiceEmitRolledBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEscrowFunded,
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   accountID,
			Data:          payloads.EscrowFundedEvent{},
		}); err != nil {
			return err
		}
		return errors.New("ledger write failed")
	})
	require.Error(t, err)

	rows, err := repo.ListByAggregate(context.Background(), accountID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestServiceEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventType("escrow_teleported"),
			AggregateType: enums.AggregateVirtualAccount,
			AggregateID:   uuid.New(),
		})
	})
	require.ErrorContains(t, err, "invalid outbox event type")
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	accountID := uuid.New()

	for i := 0; i < 2; i++ {
		err := conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, DomainEvent{
				EventType:     enums.EventEscrowAccountCreated,
				AggregateType: enums.AggregateVirtualAccount,
				AggregateID:   accountID,
				Data:          payloads.EscrowAccountCreatedEvent{VirtualAccountID: accountID},
			})
		})
		require.NoError(t, err)
	}

	rows, err := repo.ListByAggregate(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	first := seedEvent(t, conn)
	second := seedEvent(t, conn)

	var fetched []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, fetched, 2)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, first.ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, second.ID, errors.New("bad payload"), 3)
	}))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Empty(t, fetched)

	var parked models.OutboxEvent
	require.NoError(t, conn.First(&parked, "id = ?", second.ID).Error)
	require.Equal(t, 3, parked.AttemptCount)
	require.NotNil(t, parked.LastError)
	require.Equal(t, "bad payload", *parked.LastError)
}

func TestRepositoryMarkFailedIncrementsAttempts(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	event := seedEvent(t, conn)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, event.ID, errors.New("pubsub unavailable"))
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", event.ID).Error)
	require.Equal(t, 1, row.AttemptCount)
	require.Nil(t, row.PublishedAt)
}

func TestRepositoryMarkFailedClipsErrorOnRuneBoundary(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	event := seedEvent(t, conn)
	msg := "x" + strings.Repeat("é", maxLastErrorLen)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, event.ID, errors.New(msg))
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", event.ID).Error)
	require.NotNil(t, row.LastError)
	require.True(t, utf8.ValidString(*row.LastError))
	require.Equal(t, maxLastErrorLen, utf8.RuneCountInString(*row.LastError))
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	old := seedEvent(t, conn)
	recent := seedEvent(t, conn)
	pending := seedEvent(t, conn)

	oldTime := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old.ID).
		Updates(map[string]any{"published_at": oldTime, "attempt_count": 1}).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", recent.ID).
		Updates(map[string]any{"published_at": time.Now().UTC(), "attempt_count": 1}).Error)

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id IN ?", []uuid.UUID{recent.ID, pending.ID}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}

func seedEvent(t *testing.T, conn *gorm.DB) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		EventType:     enums.EventEscrowFunded,
		AggregateType: enums.AggregateVirtualAccount,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
	}
	require.NoError(t, conn.Create(&event).Error)
	return event
}

func TestDLQRepositoryInsertClipsMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	event := seedEvent(t, conn)
	msg := strings.Repeat("é", dlqMessageLimit+10)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			ErrorMessage:  &msg,
			AttemptCount:  1,
		})
	}))

	var row models.OutboxDLQ
	require.NoError(t, conn.First(&row, "event_id = ?", event.ID).Error)
	require.NotNil(t, row.ErrorMessage)
	require.Equal(t, dlqMessageLimit, utf8.RuneCountInString(*row.ErrorMessage))
}

func TestDLQRepositoryRejectsUnknownReason(t *testing.T) {
	conn := dbtest.Open(t)
	err := conn.Transaction(func(tx *gorm.DB) error {
		return NewDLQRepository(conn).InsertTx(tx, models.OutboxDLQ{ErrorReason: "gave_up"})
	})
	require.ErrorContains(t, err, "invalid dlq reason")
}
