package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// AccountTotal is the summed amount of one (account, direction, type, currency) group.
type AccountTotal struct {
	Account         enums.LedgerAccount
	Direction       enums.EntryDirection
	TransactionType enums.EventType
	Currency        string
	Total           decimal.Decimal
}

// ProductTotal is the summed amount of product-tagged legs on one account.
type ProductTotal struct {
	ProductID string
	Account   enums.LedgerAccount
	Direction enums.EntryDirection
	Currency  string
	Total     decimal.Decimal
}

// CurrencyTotal is a per-currency sum.
type CurrencyTotal struct {
	Currency  string
	Direction enums.EntryDirection
	Total     decimal.Decimal
}

// Repository reads ledger state. It never writes.
type Repository interface {
	AccountTotals(ctx context.Context, merchantID string, start, end time.Time) ([]AccountTotal, error)
	ProductTotals(ctx context.Context, merchantID string, start, end time.Time) ([]ProductTotal, error)
	CashTotals(ctx context.Context, merchantID string, asOf time.Time) ([]CurrencyTotal, error)
	CountTransactions(ctx context.Context, merchantID string, txnType enums.EventType, start, end time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a read-only ledger view bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) entries(ctx context.Context, merchantID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("ledger_entries AS e").
		Joins("JOIN ledger_transactions t ON t.id = e.transaction_id").
		Where("t.merchant_id = ?", merchantID)
}

func (r *repository) AccountTotals(ctx context.Context, merchantID string, start, end time.Time) ([]AccountTotal, error) {
	var rows []AccountTotal
	err := r.entries(ctx, merchantID).
		Select("e.account AS account, e.direction AS direction, t.transaction_type AS transaction_type, e.currency AS currency, COALESCE(SUM(e.amount), 0) AS total").
		Where("t.occurred_at >= ? AND t.occurred_at < ?", start.UTC(), end.UTC()).
		Group("e.account, e.direction, t.transaction_type, e.currency").
		Order("e.currency, e.account, e.direction, t.transaction_type").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) ProductTotals(ctx context.Context, merchantID string, start, end time.Time) ([]ProductTotal, error) {
	var rows []ProductTotal
	err := r.entries(ctx, merchantID).
		Select("e.product_id AS product_id, e.account AS account, e.direction AS direction, e.currency AS currency, COALESCE(SUM(e.amount), 0) AS total").
		Where("e.product_id IS NOT NULL").
		Where("e.account IN ?", []enums.LedgerAccount{enums.AccountRevenue, enums.AccountCOGS}).
		Where("t.occurred_at >= ? AND t.occurred_at < ?", start.UTC(), end.UTC()).
		Group("e.product_id, e.account, e.direction, e.currency").
		Order("e.product_id, e.account, e.direction").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) CashTotals(ctx context.Context, merchantID string, asOf time.Time) ([]CurrencyTotal, error) {
	var rows []CurrencyTotal
	err := r.entries(ctx, merchantID).
		Select("e.currency AS currency, e.direction AS direction, COALESCE(SUM(e.amount), 0) AS total").
		Where("e.account = ?", enums.AccountCashPosition).
		Where("t.occurred_at < ?", asOf.UTC()).
		Group("e.currency, e.direction").
		Order("e.currency, e.direction").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) CountTransactions(ctx context.Context, merchantID string, txnType enums.EventType, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("ledger_transactions").
		Where("merchant_id = ? AND transaction_type = ?", merchantID, txnType).
		Where("occurred_at >= ? AND occurred_at < ?", start.UTC(), end.UTC()).
		Count(&count).Error
	return count, err
}
