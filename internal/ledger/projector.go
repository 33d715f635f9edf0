package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/internal/events"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// Skip reasons reported by Project.
const (
	ReasonAlreadyProjected = "already_projected"
	ReasonNotProjectable   = "not_projectable"
)

// EventSource loads events to project, and the orders refunds point back to.
type EventSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	FindByNaturalKey(ctx context.Context, merchantID string, eventType enums.EventType, naturalKey string) (*models.Event, error)
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProjectResult is the outcome of projecting one event.
type ProjectResult struct {
	TransactionID uuid.UUID
	Skipped       bool
	Reason        string
	Entries       int
}

// Projector is the only writer of ledger transactions and entries.
type Projector struct {
	events EventSource
	repo   Repository
	tx     TxRunner
	logg   *logger.Logger
}

// NewProjector wires a projector over the event log and ledger store.
func NewProjector(source EventSource, repo Repository, tx TxRunner, logg *logger.Logger) (*Projector, error) {
	if source == nil {
		return nil, fmt.Errorf("event source required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Projector{events: source, repo: repo, tx: tx, logg: logg}, nil
}

// Project derives the balanced transaction for eventID. Projecting the same
// event again, or concurrently, yields Skipped for every caller but one.
func (p *Projector) Project(ctx context.Context, eventID uuid.UUID) (ProjectResult, error) {
	event, err := p.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProjectResult{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "event not found")
		}
		return ProjectResult{}, p.storageError(ctx, "load event", err)
	}

	logCtx := p.logg.WithMerchantID(ctx, event.MerchantID)
	logCtx = p.logg.WithEvent(logCtx, event.ID.String(), event.EventType.String())

	existing, err := p.repo.FindByEventID(ctx, event.ID)
	switch {
	case err == nil:
		return ProjectResult{TransactionID: existing.ID, Skipped: true, Reason: ReasonAlreadyProjected, Entries: len(existing.Entries)}, nil
	case !isNotFound(err):
		return ProjectResult{}, p.storageError(logCtx, "check existing transaction", err)
	}

	payload, err := events.Decode(event.EventType, event.Payload)
	if err != nil {
		return ProjectResult{}, p.defect(logCtx, event, err)
	}
	var legs []Posting
	if refund, ok := payload.(events.RefundCreated); ok {
		order, err := p.refundedOrder(logCtx, event.MerchantID, refund)
		if err != nil {
			return ProjectResult{}, p.storageError(logCtx, "load refunded order", err)
		}
		legs = MapRefund(refund, order)
	} else {
		legs, err = Map(payload)
	}
	if errors.Is(err, ErrNotProjectable) {
		return ProjectResult{Skipped: true, Reason: ReasonNotProjectable}, nil
	}
	if err != nil {
		return ProjectResult{}, p.defect(logCtx, event, err)
	}
	if err := CheckBalance(legs); err != nil {
		return ProjectResult{}, p.defect(logCtx, event, err)
	}

	occurredAt := payload.EventTime()
	if occurredAt.IsZero() {
		occurredAt = event.ReceivedAt.UTC()
	}
	txn := &models.LedgerTransaction{
		ID:              uuid.New(),
		EventID:         event.ID,
		MerchantID:      event.MerchantID,
		TransactionType: event.EventType,
		StreamType:      event.StreamType,
		OccurredAt:      occurredAt,
	}
	entries := buildEntries(txn, legs)

	inserted := false
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		ok, err := repo.InsertTransaction(ctx, txn)
		if err != nil || !ok {
			return err
		}
		if err := repo.InsertEntries(ctx, entries); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, UniqueEventConstraint) {
			return p.skipRace(ctx, logCtx, event.ID)
		}
		return ProjectResult{}, p.storageError(logCtx, "write transaction", err)
	}
	if !inserted {
		return p.skipRace(ctx, logCtx, event.ID)
	}

	p.logg.Info(p.logg.WithField(logCtx, "transaction_id", txn.ID.String()), "event projected")
	return ProjectResult{TransactionID: txn.ID, Entries: len(entries)}, nil
}

// refundedOrder loads the order a refund pays back. Refunds without an order
// id, or whose order is missing or unreadable, map without one.
func (p *Projector) refundedOrder(ctx context.Context, merchantID string, refund events.RefundCreated) (*events.OrderCreated, error) {
	key, _, err := events.NaturalKey(events.OrderCreated{OrderID: refund.OrderID})
	if err != nil {
		return nil, nil
	}
	event, err := p.events.FindByNaturalKey(ctx, merchantID, enums.EventTypeOrderCreated, key)
	if isNotFound(err) {
		p.logg.Warn(p.logg.WithField(ctx, "order_id", key), "refunded order not in event log")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payload, err := events.Decode(event.EventType, event.Payload)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "order_id", key), "refunded order payload invalid")
		return nil, nil
	}
	order := payload.(events.OrderCreated)
	return &order, nil
}

// skipRace reports the transaction written by a concurrent projector.
func (p *Projector) skipRace(ctx, logCtx context.Context, eventID uuid.UUID) (ProjectResult, error) {
	p.logg.Info(logCtx, "event projected concurrently")
	existing, err := p.repo.FindByEventID(ctx, eventID)
	if err != nil {
		return ProjectResult{Skipped: true, Reason: ReasonAlreadyProjected}, nil
	}
	return ProjectResult{TransactionID: existing.ID, Skipped: true, Reason: ReasonAlreadyProjected, Entries: len(existing.Entries)}, nil
}

// defect logs a mapping failure with the raw payload so it can be replayed.
func (p *Projector) defect(ctx context.Context, event *models.Event, err error) error {
	logCtx := p.logg.WithField(ctx, "payload", string(event.Payload))

	var unbalanced *UnbalancedError
	switch {
	case errors.As(err, &unbalanced):
		p.logg.Error(logCtx, "projection produced unbalanced entries", err)
		return pkgerrors.Wrap(pkgerrors.CodeUnbalancedEntry, err, "ledger entries do not balance").
			WithDetails(map[string]any{"event_id": event.ID, "imbalances": unbalanced.Imbalances})
	case errors.Is(err, ErrUnbalancedEntry):
		p.logg.Error(logCtx, "projection produced invalid entries", err)
		return pkgerrors.Wrap(pkgerrors.CodeUnbalancedEntry, err, "ledger entries do not balance").
			WithDetails(map[string]any{"event_id": event.ID, "error": err.Error()})
	case errors.Is(err, events.ErrUnknownEventType):
		p.logg.Error(logCtx, "no projection for event type", err)
		return pkgerrors.Wrap(pkgerrors.CodeUnknownEventType, err, "unknown event type").
			WithDetails(map[string]any{"event_id": event.ID, "event_type": event.EventType})
	default:
		p.logg.Error(logCtx, "stored payload failed to decode", err)
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stored payload is invalid").
			WithDetails(map[string]any{"event_id": event.ID, "error": err.Error()})
	}
}

func (p *Projector) storageError(ctx context.Context, op string, err error) error {
	p.logg.Error(ctx, op+" failed", err)
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+" failed")
}

func buildEntries(txn *models.LedgerTransaction, legs []Posting) []models.LedgerEntry {
	now := time.Now().UTC()
	entries := make([]models.LedgerEntry, 0, len(legs))
	for _, leg := range legs {
		entries = append(entries, models.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			MerchantID:    txn.MerchantID,
			Account:       leg.Account,
			Direction:     leg.Direction,
			Amount:        leg.Amount,
			Currency:      leg.Currency,
			ProductID:     leg.ProductID,
			CreatedAt:     now,
		})
	}
	return entries
}

// IsDefect reports whether err is a per-event logic defect that callers log
// and skip rather than retry.
func IsDefect(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeUnbalancedEntry, pkgerrors.CodeUnknownEventType, pkgerrors.CodeValidation)
}
