package audit

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/suragms/BillingApp-sub007/pkg/enums"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

// Entry is one append-only audit record.
type Entry struct {
	TenantID    int64
	UserID      int64
	Action      enums.OutboxEventType
	AggregateID int64
	Detail      any
}

// Emitter queues events inside an open transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Sink writes audit entries through the transactional outbox so an entry
// exists if and only if the mutation it describes committed.
type Sink struct {
	emitter Emitter
}

func NewSink(emitter Emitter) (*Sink, error) {
	if emitter == nil {
		return nil, errors.New("audit emitter required")
	}
	return &Sink{emitter: emitter}, nil
}

// Append records entry within tx.
func (s *Sink) Append(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if !entry.Action.IsValid() {
		return fmt.Errorf("unknown audit action %q", entry.Action)
	}
	return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     entry.Action,
		AggregateType: entry.Action.AggregateFor(),
		AggregateID:   entry.AggregateID,
		Actor:         outbox.ActorRef{UserID: entry.UserID, TenantID: entry.TenantID},
		Data:          entry.Detail,
	})
}
