package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
)

var (
	ErrNotParked        = errors.New("outbox event is not parked")
	ErrAlreadyPublished = errors.New("outbox event was already published")
)

// DLQRepository stores outbox rows the publisher gave up on and lets an
// operator put them back in the queue.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks a row. Parking the same event twice keeps the first entry.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&entry).Error
}

// List returns the most recently parked entries first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Requeue resets a parked event so the publisher picks it up again and drops
// its DLQ entry. A row already removed by retention is rebuilt from the DLQ
// copy under its original id, so consumers still see one event id.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) (*models.OutboxEvent, error) {
	var requeued models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parked models.OutboxDLQ
		if err := tx.Where("event_id = ?", eventID).Take(&parked).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotParked
			}
			return fmt.Errorf("load dlq entry: %w", err)
		}

		err := tx.Where("id = ?", eventID).Take(&requeued).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			requeued = models.OutboxEvent{
				ID:            parked.EventID,
				EventType:     parked.EventType,
				AggregateType: parked.AggregateType,
				AggregateID:   parked.AggregateID,
				Payload:       parked.Payload,
			}
			if err := tx.Create(&requeued).Error; err != nil {
				return fmt.Errorf("restore outbox row: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load outbox row: %w", err)
		case requeued.PublishedAt != nil:
			return ErrAlreadyPublished
		default:
			if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", eventID).
				Updates(map[string]any{"attempt_count": 0, "last_error": nil}).Error; err != nil {
				return fmt.Errorf("reset outbox row: %w", err)
			}
			requeued.AttemptCount = 0
			requeued.LastError = nil
		}

		return tx.Delete(&models.OutboxDLQ{}, "id = ?", parked.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &requeued, nil
}
