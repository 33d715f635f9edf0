package diagnostics

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
)

// Repository persists the latest health score per merchant.
type Repository interface {
	Upsert(ctx context.Context, score *models.HealthScore) error
	Find(ctx context.Context, merchantID string) (*models.HealthScore, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a health score repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Upsert overwrites the merchant's row; scores are never patched in place.
func (r *repository) Upsert(ctx context.Context, score *models.HealthScore) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}},
			UpdateAll: true,
		}).
		Create(score).Error
}

func (r *repository) Find(ctx context.Context, merchantID string) (*models.HealthScore, error) {
	var score models.HealthScore
	if err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).Take(&score).Error; err != nil {
		return nil, err
	}
	return &score, nil
}
