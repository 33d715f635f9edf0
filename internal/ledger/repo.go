package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// UniqueEventConstraint backs the one-transaction-per-event invariant.
const UniqueEventConstraint = "ux_ledger_transactions_event"

// Repository manages persistence for ledger transactions and entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.LedgerTransaction, error)
	InsertTransaction(ctx context.Context, txn *models.LedgerTransaction) (bool, error)
	InsertEntries(ctx context.Context, entries []models.LedgerEntry) error
	CountTransactions(ctx context.Context, merchantID string) (int64, error)
	ListUnbalanced(ctx context.Context, merchantID string) ([]uuid.UUID, error)
	DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (entries int64, transactions int64, err error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	err := r.db.WithContext(ctx).
		Preload("Entries").
		Where("event_id = ?", eventID).
		Take(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// InsertTransaction returns false when a transaction for the event already exists.
func (r *repository) InsertTransaction(ctx context.Context, txn *models.LedgerTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Omit("Entries").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertEntries(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) CountTransactions(ctx context.Context, merchantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerTransaction{}).
		Where("merchant_id = ?", merchantID).
		Count(&count).Error
	return count, err
}

// ListUnbalanced returns transactions whose debits and credits differ in any currency.
func (r *repository) ListUnbalanced(ctx context.Context, merchantID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("transaction_id").
		Where("merchant_id = ?", merchantID).
		Group("transaction_id, currency").
		Having("SUM(CASE WHEN direction = ? THEN amount ELSE -amount END) <> 0", enums.DirectionDebit).
		Pluck("transaction_id", &ids).Error
	return ids, err
}

// DeleteByStreams removes entries then transactions for the merchant's
// matching streams. Callers run it inside the erasure transaction.
func (r *repository) DeleteByStreams(ctx context.Context, merchantID string, streamTypes []string) (int64, int64, error) {
	txnIDs := r.db.WithContext(ctx).
		Model(&models.LedgerTransaction{}).
		Select("id").
		Where("merchant_id = ? AND stream_type IN ?", merchantID, streamTypes)

	entries := r.db.WithContext(ctx).
		Where("transaction_id IN (?)", txnIDs).
		Delete(&models.LedgerEntry{})
	if entries.Error != nil {
		return 0, 0, entries.Error
	}

	txns := r.db.WithContext(ctx).
		Where("merchant_id = ? AND stream_type IN ?", merchantID, streamTypes).
		Delete(&models.LedgerTransaction{})
	if txns.Error != nil {
		return entries.RowsAffected, 0, txns.Error
	}
	return entries.RowsAffected, txns.RowsAffected, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
