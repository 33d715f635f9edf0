package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/internal/reporting"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// LedgerReader is the read side the engine scores.
type LedgerReader interface {
	Summarize(ctx context.Context, merchantID string, start, end time.Time) (reporting.Summary, error)
	ProductBreakdown(ctx context.Context, merchantID, currency string, start, end time.Time) ([]reporting.ProductLine, error)
}

// Service is the risk diagnostic engine and the only writer of health scores.
type Service struct {
	ledger LedgerReader
	repo   Repository
	policy Policy
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the engine with a policy.
func NewService(ledger LedgerReader, repo Repository, policy Policy, logg *logger.Logger) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if repo == nil {
		return nil, fmt.Errorf("health score repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if policy.WindowDays <= 0 {
		return nil, fmt.Errorf("policy window days must be positive")
	}
	return &Service{ledger: ledger, repo: repo, policy: policy, logg: logg, now: time.Now}, nil
}

// Window returns the trailing window ending at the close of asOf's UTC day.
func (s *Service) Window(asOf time.Time) (time.Time, time.Time) {
	day := asOf.UTC().Truncate(24 * time.Hour)
	end := day.Add(24 * time.Hour)
	start := end.AddDate(0, 0, -s.policy.WindowDays)
	return start, end
}

// Diagnose scores the merchant as of today and stores the result.
func (s *Service) Diagnose(ctx context.Context, merchantID string) (*models.HealthScore, error) {
	return s.DiagnoseAt(ctx, merchantID, s.now())
}

// DiagnoseAt scores the merchant over the window ending with asOf's day.
// Identical ledger state and asOf day give an identical score.
func (s *Service) DiagnoseAt(ctx context.Context, merchantID string, asOf time.Time) (*models.HealthScore, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	logCtx := s.logg.WithMerchantID(ctx, merchantID)

	start, end := s.Window(asOf)
	prevStart := start.AddDate(0, 0, -s.policy.WindowDays)

	current, err := s.ledger.Summarize(ctx, merchantID, start, end)
	if err != nil {
		return nil, err
	}
	previous, err := s.ledger.Summarize(ctx, merchantID, prevStart, start)
	if err != nil {
		return nil, err
	}
	var products []reporting.ProductLine
	if !current.IsEmpty() {
		products, err = s.ledger.ProductBreakdown(ctx, merchantID, current.Currency, start, end)
		if err != nil {
			return nil, err
		}
	}

	result := Evaluate(s.policy, Inputs{Current: current, Previous: previous, Products: products})
	if current.IsEmpty() && previous.IsEmpty() {
		s.logg.Info(logCtx, "no ledger history, using safe default score")
	}

	score := &models.HealthScore{
		MerchantID:      merchantID,
		Score:           result.Score,
		Level:           result.Level,
		Factors:         result.Factors,
		OpportunityLoss: result.OpportunityLoss,
		WindowStart:     start,
		WindowEnd:       end,
		ComputedAt:      s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, score); err != nil {
		s.logg.Error(logCtx, "failed to store health score", err)
		return nil, storageError(err, "store health score")
	}

	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"score": result.Score,
		"level": result.Level,
	}), "health score computed")
	return score, nil
}

// Get returns the stored score, or an unsaved safe default for merchants
// that were never diagnosed.
func (s *Service) Get(ctx context.Context, merchantID string) (*models.HealthScore, error) {
	stored, err := s.repo.Find(ctx, merchantID)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError(err, "load health score")
	}

	def := SafeDefault()
	start, end := s.Window(s.now())
	return &models.HealthScore{
		MerchantID:      merchantID,
		Score:           def.Score,
		Level:           def.Level,
		Factors:         def.Factors,
		OpportunityLoss: def.OpportunityLoss,
		WindowStart:     start,
		WindowEnd:       end,
		ComputedAt:      s.now().UTC(),
	}, nil
}

// Latest returns the stored score, diagnosing first when none exists.
func (s *Service) Latest(ctx context.Context, merchantID string) (*models.HealthScore, error) {
	stored, err := s.repo.Find(ctx, merchantID)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError(err, "load health score")
	}
	return s.Diagnose(ctx, merchantID)
}

func storageError(err error, msg string) error {
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
