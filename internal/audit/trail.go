package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

// TrailEntry is the read view of one committed audit entry.
type TrailEntry struct {
	EventID     uuid.UUID             `json:"eventId"`
	Action      enums.OutboxEventType `json:"action"`
	ActorUserID int64                 `json:"actorUserId"`
	At          time.Time             `json:"at"`
	Published   bool                  `json:"published"`
	Detail      json.RawMessage       `json:"detail"`
}

type trailStore interface {
	ListForAggregate(ctx context.Context, tenantID int64, aggregate enums.OutboxAggregateType, aggregateID int64) ([]models.OutboxEvent, error)
}

// Trail reads audit history back out of the outbox.
type Trail struct {
	store trailStore
}

func NewTrail(store trailStore) (*Trail, error) {
	if store == nil {
		return nil, errors.New("audit trail store required")
	}
	return &Trail{store: store}, nil
}

// For lists the entries of one aggregate, oldest first. Entries from other
// tenants are never returned.
func (t *Trail) For(ctx context.Context, tenantID int64, aggregate enums.OutboxAggregateType, aggregateID int64) ([]TrailEntry, error) {
	rows, err := t.store.ListForAggregate(ctx, tenantID, aggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	out := make([]TrailEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, trailEntry(row))
	}
	return out, nil
}

func trailEntry(row models.OutboxEvent) TrailEntry {
	entry := TrailEntry{
		EventID:     row.ID,
		Action:      row.EventType,
		ActorUserID: row.ActorUserID,
		At:          row.CreatedAt.UTC(),
		Published:   row.PublishedAt != nil,
		Detail:      row.Payload,
	}
	if env, err := outbox.DecodeEnvelope(row.Payload); err == nil {
		entry.EventID = env.EventID
		entry.Detail = env.Data
	}
	return entry
}
