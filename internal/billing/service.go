package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes the plan catalogue and each merchant's active plan. It
// reads billing state and records provider syncs; it never changes a plan on
// its own.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// SyncSubscriptionInput is the provider's view of one subscription.
type SyncSubscriptionInput struct {
	ID               uuid.UUID
	MerchantID       string
	PlanID           string
	Status           enums.SubscriptionStatus
	CurrentPeriodEnd *time.Time
}

// SyncSubscription stores the provider's subscription state.
func (s *Service) SyncSubscription(ctx context.Context, input SyncSubscriptionInput) (*models.Subscription, error) {
	if strings.TrimSpace(input.MerchantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status")
	}
	plan, err := s.repo.FindBillingPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing plan").
			WithDetails(map[string]any{"plan_id": input.PlanID})
	}

	id := input.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	sub := &models.Subscription{
		ID:               id,
		MerchantID:       input.MerchantID,
		PlanID:           plan.ID,
		Status:           input.Status,
		CurrentPeriodEnd: input.CurrentPeriodEnd,
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store subscription")
	}
	return sub, nil
}

// ActivePlan returns the plan the merchant currently pays for, or nil.
func (s *Service) ActivePlan(ctx context.Context, merchantID string) (*models.BillingPlan, error) {
	sub, err := s.repo.FindEntitledSubscription(ctx, merchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, nil
	}
	plan, err := s.repo.FindBillingPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing plan")
	}
	return plan, nil
}

// Plan returns one catalogue entry, or nil when unknown.
func (s *Service) Plan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	plan, err := s.repo.FindBillingPlanByID(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing plan")
	}
	return plan, nil
}

// ListPlans returns the active catalogue ordered by rank.
func (s *Service) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	status := enums.PlanStatusActive
	plans, err := s.repo.ListBillingPlans(ctx, &status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list billing plans")
	}
	return plans, nil
}
