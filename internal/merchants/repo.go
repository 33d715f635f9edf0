package merchants

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/internal/repo"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Repository persists upstream connection records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, conn *models.MerchantConnection) error
	List(ctx context.Context, merchantID string) ([]models.MerchantConnection, error)
	CountActive(ctx context.Context, merchantID string, kind enums.ConnectionKind) (int64, error)
	ListActiveByKind(ctx context.Context, kind enums.ConnectionKind) ([]models.MerchantConnection, error)
	DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (int64, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a connection repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.Tx(tx)}
}

// Upsert keys on (merchant_id, stream_type); a reconnect keeps the row id.
func (r *repository) Upsert(ctx context.Context, conn *models.MerchantConnection) error {
	conn.UpdatedAt = time.Now().UTC()
	return r.base.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "stream_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "status", "connected_at", "updated_at"}),
		}).
		Create(conn).Error
}

func (r *repository) List(ctx context.Context, merchantID string) ([]models.MerchantConnection, error) {
	var conns []models.MerchantConnection
	err := r.base.DB(ctx).
		Where("merchant_id = ?", merchantID).
		Order("stream_type ASC").
		Find(&conns).Error
	return conns, err
}

func (r *repository) CountActive(ctx context.Context, merchantID string, kind enums.ConnectionKind) (int64, error) {
	var count int64
	err := r.base.DB(ctx).
		Model(&models.MerchantConnection{}).
		Where("merchant_id = ? AND kind = ? AND status = ?", merchantID, kind, enums.ConnectionStatusActive).
		Count(&count).Error
	return count, err
}

func (r *repository) ListActiveByKind(ctx context.Context, kind enums.ConnectionKind) ([]models.MerchantConnection, error) {
	var conns []models.MerchantConnection
	err := r.base.DB(ctx).
		Where("kind = ? AND status = ?", kind, enums.ConnectionStatusActive).
		Order("merchant_id ASC, stream_type ASC").
		Find(&conns).Error
	return conns, err
}

func (r *repository) DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (int64, error) {
	res := r.base.DB(ctx).
		Where("merchant_id = ? AND stream_type IN ?", merchantID, streamTypes).
		Delete(&models.MerchantConnection{})
	return res.RowsAffected, res.Error
}
