package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/suragms/BillingApp-sub007/pkg/enums"
)

// SchemaVersion is the envelope layout written by this build.
const SchemaVersion = 1

// ActorRef identifies the tenant and user an event is attributed to.
type ActorRef struct {
	UserID   int64 `json:"userId"`
	TenantID int64 `json:"tenantId"`
}

// AggregateRef names the ledger record an event describes.
type AggregateRef struct {
	Type enums.OutboxAggregateType `json:"type"`
	ID   int64                     `json:"id"`
}

// Envelope is the JSON document stored in outbox_events.payload and relayed
// verbatim to subscribers.
type Envelope struct {
	Schema     int                   `json:"schema"`
	EventID    uuid.UUID             `json:"eventId"`
	Type       enums.OutboxEventType `json:"type"`
	Aggregate  AggregateRef          `json:"aggregate"`
	Actor      ActorRef              `json:"actor"`
	OccurredAt time.Time             `json:"occurredAt"`
	Data       json.RawMessage       `json:"data"`
}

var errNotEnvelope = errors.New("payload is not an outbox envelope")

// DecodeEnvelope parses a stored payload. Documents without an event id or
// written by a newer schema are rejected.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errNotEnvelope, err)
	}
	if env.EventID == uuid.Nil || env.Schema <= 0 {
		return Envelope{}, errNotEnvelope
	}
	if env.Schema > SchemaVersion {
		return Envelope{}, fmt.Errorf("unsupported envelope schema %d", env.Schema)
	}
	return env, nil
}
