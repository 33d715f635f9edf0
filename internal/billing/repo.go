package billing

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertSubscription(ctx context.Context, subscription *models.Subscription) error
	FindEntitledSubscription(ctx context.Context, merchantID string) (*models.Subscription, error)
	ListBillingPlans(ctx context.Context, status *enums.PlanStatus) ([]models.BillingPlan, error)
	FindBillingPlanByID(ctx context.Context, id string) (*models.BillingPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) UpsertSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"plan_id", "status", "current_period_end", "updated_at"}),
		}).
		Create(subscription).Error
}

// FindEntitledSubscription returns the newest subscription that still grants
// its plan, or nil when the merchant has none.
func (r *repository) FindEntitledSubscription(ctx context.Context, merchantID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrialing,
			enums.SubscriptionStatusPastDue,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListBillingPlans(ctx context.Context, status *enums.PlanStatus) ([]models.BillingPlan, error) {
	query := r.db.WithContext(ctx).Model(&models.BillingPlan{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var plans []models.BillingPlan
	if err := query.Order("rank ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindBillingPlanByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
