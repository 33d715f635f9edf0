package merchants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/ledger"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/payloads"
)

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Emitter queues outbox events inside a transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the merchant service.
type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Repository
	Events  eventlog.Repository
	Tx      TxRunner
	Outbox  Emitter
	Metrics *metrics.PipelineMetrics
	Logger  *logger.Logger
}

// Service owns connection records and the erasure cascade.
type Service struct {
	repo    Repository
	ledger  ledger.Repository
	events  eventlog.Repository
	tx      TxRunner
	outbox  Emitter
	metrics *metrics.PipelineMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a merchant service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("connection repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.Events == nil:
		return nil, fmt.Errorf("event repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		events:  params.Events,
		tx:      params.Tx,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// ConnectInput registers or updates one upstream integration.
type ConnectInput struct {
	MerchantID string
	StreamType string
	Kind       enums.ConnectionKind
	Status     enums.ConnectionStatus
}

// Connect upserts the connection for (merchant, stream type).
func (s *Service) Connect(ctx context.Context, input ConnectInput) (*models.MerchantConnection, error) {
	merchantID := strings.TrimSpace(input.MerchantID)
	streamType := strings.TrimSpace(input.StreamType)
	if merchantID == "" || streamType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and stream type are required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid connection kind")
	}
	status := input.Status
	if status == "" {
		status = enums.ConnectionStatusActive
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid connection status")
	}

	conn := &models.MerchantConnection{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		StreamType:  streamType,
		Kind:        input.Kind,
		Status:      status,
		ConnectedAt: s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, conn); err != nil {
		return nil, storageError(err, "store connection")
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithMerchantID(ctx, merchantID), map[string]any{
		"stream_type": streamType,
		"kind":        input.Kind,
		"status":      status,
	}), "merchant connection stored")
	return conn, nil
}

// Connections lists every connection the merchant has.
func (s *Service) Connections(ctx context.Context, merchantID string) ([]models.MerchantConnection, error) {
	conns, err := s.repo.List(ctx, merchantID)
	if err != nil {
		return nil, storageError(err, "list connections")
	}
	return conns, nil
}

// CountActive counts the merchant's active connections of kind.
func (s *Service) CountActive(ctx context.Context, merchantID string, kind enums.ConnectionKind) (int64, error) {
	count, err := s.repo.CountActive(ctx, merchantID, kind)
	if err != nil {
		return 0, storageError(err, "count connections")
	}
	return count, nil
}

// ActiveByKind lists active connections of kind across merchants.
func (s *Service) ActiveByKind(ctx context.Context, kind enums.ConnectionKind) ([]models.MerchantConnection, error) {
	conns, err := s.repo.ListActiveByKind(ctx, kind)
	if err != nil {
		return nil, storageError(err, "list connections")
	}
	return conns, nil
}

// PurgeResult counts the rows one erasure removed.
type PurgeResult struct {
	MerchantID   string   `json:"merchant_id"`
	StreamTypes  []string `json:"stream_types"`
	Entries      int64    `json:"entries"`
	Transactions int64    `json:"transactions"`
	Events       int64    `json:"events"`
	Connections  int64    `json:"connections"`
}

// Total is the number of rows removed across all tables.
func (r PurgeResult) Total() int64 {
	return r.Entries + r.Transactions + r.Events + r.Connections
}

// PurgeMerchantData erases everything the named streams produced for the
// merchant: entries, transactions, events, then the connection rows. The
// cascade runs in one transaction so a partial erasure is never visible, and
// repeating it after a partial or complete run is safe.
func (s *Service) PurgeMerchantData(ctx context.Context, merchantID string, streamTypes []string) (PurgeResult, error) {
	merchantID = strings.TrimSpace(merchantID)
	streams := normalizeStreams(streamTypes)
	if merchantID == "" {
		return PurgeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if len(streams) == 0 {
		return PurgeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "at least one stream type is required")
	}
	logCtx := s.logg.WithFields(s.logg.WithMerchantID(ctx, merchantID), map[string]any{
		"stream_types": streams,
	})

	result := PurgeResult{MerchantID: merchantID, StreamTypes: streams}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result.Entries, result.Transactions, err = s.ledger.WithTx(tx).DeleteByStreams(ctx, merchantID, streams)
		if err != nil {
			return fmt.Errorf("delete ledger rows: %w", err)
		}
		if result.Events, err = s.events.WithTx(tx).DeleteByStreams(ctx, merchantID, streams); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		if result.Connections, err = s.repo.WithTx(tx).DeleteByStreams(ctx, merchantID, streams); err != nil {
			return fmt.Errorf("delete connections: %w", err)
		}
		if result.Total() == 0 {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMerchantDataPurged,
			AggregateType: enums.AggregateMerchant,
			AggregateID:   merchantID,
			Data: payloads.MerchantDataPurgedEvent{
				MerchantID:   merchantID,
				StreamTypes:  streams,
				Entries:      result.Entries,
				Transactions: result.Transactions,
				Events:       result.Events,
				Connections:  result.Connections,
				PurgedAt:     s.now().UTC(),
			},
		})
	})
	if err != nil {
		s.logg.Error(logCtx, "merchant data purge failed", err)
		return PurgeResult{}, storageError(err, "purge merchant data")
	}

	s.metrics.AddPurged("ledger_entries", result.Entries)
	s.metrics.AddPurged("ledger_transactions", result.Transactions)
	s.metrics.AddPurged("events", result.Events)
	s.metrics.AddPurged("merchant_connections", result.Connections)

	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"entries":      result.Entries,
		"transactions": result.Transactions,
		"events":       result.Events,
		"connections":  result.Connections,
	}), "merchant data purged")
	return result, nil
}

func normalizeStreams(streamTypes []string) []string {
	seen := make(map[string]struct{}, len(streamTypes))
	out := make([]string, 0, len(streamTypes))
	for _, st := range streamTypes {
		st = strings.TrimSpace(st)
		if st == "" {
			continue
		}
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

func storageError(err error, msg string) error {
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
