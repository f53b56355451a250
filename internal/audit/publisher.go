package audit

import (
	"context"
	"encoding/json"

	"github.com/suragms/BillingApp-sub007/pkg/db/models"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
	"github.com/suragms/BillingApp-sub007/pkg/outbox"
)

// LogPublisher ships relayed audit events as structured log lines on the
// "audit" channel, where the log pipeline retains them.
type LogPublisher struct {
	logg *logger.Logger
}

func NewLogPublisher(logg *logger.Logger) *LogPublisher {
	return &LogPublisher{logg: logg}
}

// Publish writes one event. Envelope payloads are unwrapped to their data;
// anything else is logged as-is.
func (p *LogPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	fields := map[string]any{
		"channel":        "audit",
		"event_id":       event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"tenant_id":      event.TenantID,
		"actor_user_id":  event.ActorUserID,
		"occurred_at":    event.CreatedAt.UTC(),
	}
	switch env, err := outbox.DecodeEnvelope(event.Payload); {
	case err == nil:
		fields["schema"] = env.Schema
		fields["payload"] = env.Data
	case json.Valid(event.Payload):
		fields["payload"] = json.RawMessage(event.Payload)
	default:
		fields["payload"] = string(event.Payload)
	}
	p.logg.Info(p.logg.WithFields(ctx, fields), "audit event")
	return nil
}
