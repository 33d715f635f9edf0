package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// DomainEvent is a notification about a committed change, addressed by its aggregate.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Service queues domain events next to the rows they describe.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit writes the event inside tx so it commits or rolls back with the change it describes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	switch {
	case event.AggregateID == "":
		return errors.New("aggregate id is required")
	case !event.EventType.IsValid():
		return fmt.Errorf("unknown outbox event type %q", event.EventType)
	case !event.AggregateType.IsValid():
		return fmt.Errorf("unknown aggregate type %q", event.AggregateType)
	}
	id := uuid.New()
	envelope, err := newEnvelope(id, event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("queue %s for %s: %w", event.EventType, event.AggregateID, err)
	}

	if s.logg != nil {
		fields := map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
		}
		if event.AggregateType == enums.AggregateMerchant {
			fields["merchant_id"] = event.AggregateID
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event queued")
	}
	return nil
}
