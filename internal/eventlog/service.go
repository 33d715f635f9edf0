package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/internal/events"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// ErrStorageUnavailable marks ingestion failures caused by an unreachable store.
var ErrStorageUnavailable = errors.New("event store unavailable")

// IngestInput is one delivery from an upstream producer.
type IngestInput struct {
	MerchantID string
	StreamType string
	Origin     enums.EventOrigin
	EventType  enums.EventType
	Payload    json.RawMessage
}

// IngestResult reports the stored event. Accepted is false for re-deliveries,
// in which case EventID is the id of the first accepted copy.
type IngestResult struct {
	EventID  uuid.UUID
	Accepted bool
	Event    *models.Event
	Payload  events.Payload
}

// Service is the event log: the single writer of events.
type Service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the event log with the provided repository.
func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("event repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg, now: time.Now}, nil
}

// Ingest decodes the payload, extracts its natural key and stores the event
// unless the same (merchant, type, key) was accepted before. Duplicates are an
// outcome, not an error.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (IngestResult, error) {
	merchantID := strings.TrimSpace(input.MerchantID)
	if merchantID == "" {
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if !input.Origin.IsValid() {
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid event origin").
			WithDetails(map[string]any{"origin": input.Origin})
	}

	payload, err := events.Decode(input.EventType, input.Payload)
	if err != nil {
		return IngestResult{}, classifyDecodeError(input.EventType, err)
	}
	naturalKey, keyVersion, err := events.NaturalKey(payload)
	if err != nil {
		return IngestResult{}, classifyDecodeError(input.EventType, err)
	}

	streamType := resolveStreamType(input.StreamType, payload)
	if streamType == "" {
		return IngestResult{}, pkgerrors.New(pkgerrors.CodeValidation, "stream type is required").
			WithDetails(map[string]any{"event_type": input.EventType})
	}

	event := &models.Event{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Origin:     input.Origin,
		EventType:  input.EventType,
		StreamType: streamType,
		NaturalKey: naturalKey,
		KeyVersion: keyVersion,
		Payload:    input.Payload,
		ReceivedAt: s.now().UTC(),
	}
	if occurred := payload.EventTime(); !occurred.IsZero() {
		event.OccurredAt = &occurred
	}

	logCtx := s.logg.WithMerchantID(ctx, merchantID)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_type":  input.EventType,
		"origin":      input.Origin,
		"natural_key": naturalKey,
	})

	inserted, err := s.repo.InsertIfAbsent(ctx, event)
	if err != nil {
		return IngestResult{}, s.storageError(logCtx, "insert event", err)
	}
	if inserted {
		s.logg.Info(logCtx, "event accepted")
		return IngestResult{EventID: event.ID, Accepted: true, Event: event, Payload: payload}, nil
	}

	existing, err := s.repo.FindByNaturalKey(ctx, merchantID, input.EventType, naturalKey)
	if err != nil {
		if isNotFound(err) {
			// The winner was erased between our insert and this read.
			return IngestResult{}, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "event removed during ingestion")
		}
		return IngestResult{}, s.storageError(logCtx, "load existing event", err)
	}
	s.logg.Info(s.logg.WithField(logCtx, "event_id", existing.ID.String()), "duplicate event ignored")
	return IngestResult{EventID: existing.ID, Accepted: false, Event: existing, Payload: payload}, nil
}

// Get returns a stored event.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "event not found")
		}
		return nil, s.storageError(ctx, "load event", err)
	}
	return event, nil
}

// ListUnprojected returns projectable events with no ledger transaction yet,
// resuming after the cursor when one is given.
func (s *Service) ListUnprojected(ctx context.Context, merchantID string, after *Cursor, limit int) ([]models.Event, error) {
	rows, err := s.repo.ListUnprojected(ctx, merchantID, after, limit)
	if err != nil {
		return nil, s.storageError(ctx, "list unprojected events", err)
	}
	return rows, nil
}

// Counts returns total and projectable event counts for a merchant.
func (s *Service) Counts(ctx context.Context, merchantID string) (Counts, error) {
	counts, err := s.repo.Counts(ctx, merchantID)
	if err != nil {
		return Counts{}, s.storageError(ctx, "count events", err)
	}
	return counts, nil
}

// ActiveMerchantsSince lists merchants with events received since the cutoff.
func (s *Service) ActiveMerchantsSince(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := s.repo.ActiveMerchantsSince(ctx, since)
	if err != nil {
		return nil, s.storageError(ctx, "list active merchants", err)
	}
	return ids, nil
}

func (s *Service) storageError(ctx context.Context, op string, err error) error {
	s.logg.Error(ctx, op+" failed", err)
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, fmt.Errorf("%w: %v", ErrStorageUnavailable, err), "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+" failed")
}

func classifyDecodeError(eventType enums.EventType, err error) error {
	if errors.Is(err, events.ErrUnknownEventType) {
		return pkgerrors.Wrap(pkgerrors.CodeUnknownEventType, err, "unknown event type").
			WithDetails(map[string]any{"event_type": eventType})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event payload").
		WithDetails(map[string]any{"event_type": eventType, "error": err.Error()})
}

// resolveStreamType falls back to the stream named inside the payload when the
// producer did not label the delivery.
func resolveStreamType(explicit string, payload events.Payload) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	switch p := payload.(type) {
	case events.OrderCreated:
		return strings.TrimSpace(p.Channel)
	case events.AdSpendRecorded:
		return strings.TrimSpace(p.Platform)
	case events.ManualEntry:
		return "manual"
	case events.AppDisconnected:
		if len(p.StreamTypes) == 1 {
			return p.StreamTypes[0]
		}
		return "disconnect"
	case events.RefundCreated:
		return ""
	}
	return ""
}
