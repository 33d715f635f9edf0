package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Repository manages persistence for raw events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, event *models.Event) (bool, error)
	FindByNaturalKey(ctx context.Context, merchantID string, eventType enums.EventType, naturalKey string) (*models.Event, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListUnprojected(ctx context.Context, merchantID string, after *Cursor, limit int) ([]models.Event, error)
	Counts(ctx context.Context, merchantID string) (Counts, error)
	ActiveMerchantsSince(ctx context.Context, since time.Time) ([]string, error)
	DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (int64, error)
}

// Cursor marks the last event a scan has seen, in (received_at, id) order.
type Cursor struct {
	ReceivedAt time.Time
	ID         uuid.UUID
}

// CursorAfter positions a scan just past event.
func CursorAfter(event models.Event) *Cursor {
	return &Cursor{ReceivedAt: event.ReceivedAt, ID: event.ID}
}

// Counts summarises a merchant's event log for reconciliation.
type Counts struct {
	Total       int64
	Projectable int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent inserts event unless (merchant_id, event_type, natural_key)
// already exists. The unique index decides; false means another writer won.
func (r *repository) InsertIfAbsent(ctx context.Context, event *models.Event) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "merchant_id"},
				{Name: "event_type"},
				{Name: "natural_key"},
			},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByNaturalKey(ctx context.Context, merchantID string, eventType enums.EventType, naturalKey string) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND event_type = ? AND natural_key = ?", merchantID, eventType, naturalKey).
		Take(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ListUnprojected returns projectable events with no ledger transaction,
// oldest first, starting after the cursor. An empty merchantID scans every
// merchant.
func (r *repository) ListUnprojected(ctx context.Context, merchantID string, after *Cursor, limit int) ([]models.Event, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Joins("LEFT JOIN ledger_transactions lt ON lt.event_id = events.id").
		Where("lt.id IS NULL").
		Where("events.event_type <> ?", enums.EventTypeAppDisconnected)
	if merchantID != "" {
		query = query.Where("events.merchant_id = ?", merchantID)
	}
	if after != nil {
		query = query.Where("events.received_at > ? OR (events.received_at = ? AND events.id > ?)",
			after.ReceivedAt.UTC(), after.ReceivedAt.UTC(), after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.Event
	if err := query.Order("events.received_at ASC, events.id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Counts(ctx context.Context, merchantID string) (Counts, error) {
	var out Counts
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN event_type <> ? THEN 1 ELSE 0 END), 0) AS projectable", enums.EventTypeAppDisconnected).
		Where("merchant_id = ?", merchantID).
		Scan(&out).Error
	return out, err
}

// ActiveMerchantsSince lists merchants that received any event at or after since.
func (r *repository) ActiveMerchantsSince(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Distinct("merchant_id").
		Where("received_at >= ?", since.UTC()).
		Order("merchant_id ASC").
		Pluck("merchant_id", &ids).Error
	return ids, err
}

// DeleteByStreams removes a merchant's events for the given streams. Only the
// erasure path calls it, after the ledger rows referencing them are gone.
func (r *repository) DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("merchant_id = ? AND stream_type IN ?", merchantID, streamTypes).
		Delete(&models.Event{})
	return res.RowsAffected, res.Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
