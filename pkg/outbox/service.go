package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

var (
	errTxRequired   = errors.New("transaction required")
	errUnknownEvent = errors.New("unknown outbox event type")
)

// DomainEvent is queued inside the caller's transaction and becomes visible
// only if that transaction commits. AggregateType defaults from EventType.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   int64
	Actor         ActorRef
	Data          any
	OccurredAt    time.Time
}

type Service struct {
	repo  *Repository
	logg  *logger.Logger
	now   func() time.Time
	newID func() uuid.UUID
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{
		repo:  repo,
		logg:  logg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

// Emit wraps event in an Envelope and inserts it through tx.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if !event.EventType.IsValid() {
		return fmt.Errorf("%w: %q", errUnknownEvent, event.EventType)
	}

	env, err := s.envelope(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		ID:            env.EventID,
		TenantID:      env.Actor.TenantID,
		ActorUserID:   env.Actor.UserID,
		EventType:     env.Type,
		AggregateType: env.Aggregate.Type,
		AggregateID:   env.Aggregate.ID,
		Payload:       payload,
		CreatedAt:     env.OccurredAt,
	}); err != nil {
		return fmt.Errorf("queue %s: %w", env.Type, err)
	}

	if s.logg != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID.String(),
			"event_type":     env.Type,
			"aggregate_type": env.Aggregate.Type,
			"aggregate_id":   env.Aggregate.ID,
		}), "outbox event queued")
	}
	return nil
}

func (s *Service) envelope(event DomainEvent) (Envelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	aggType := event.AggregateType
	if aggType == "" {
		aggType = event.EventType.AggregateFor()
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	return Envelope{
		Schema:     SchemaVersion,
		EventID:    s.newID(),
		Type:       event.EventType,
		Aggregate:  AggregateRef{Type: aggType, ID: event.AggregateID},
		Actor:      event.Actor,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}
