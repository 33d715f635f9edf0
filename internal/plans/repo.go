package plans

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
)

// Repository persists the latest plan assignment per merchant.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, assignment *models.PlanAssignment) error
	// Find returns nil when the merchant was never assigned.
	Find(ctx context.Context, merchantID string) (*models.PlanAssignment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan assignment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Upsert(ctx context.Context, assignment *models.PlanAssignment) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}},
			UpdateAll: true,
		}).
		Create(assignment).Error
}

func (r *repository) Find(ctx context.Context, merchantID string) (*models.PlanAssignment, error) {
	var assignment models.PlanAssignment
	err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}
