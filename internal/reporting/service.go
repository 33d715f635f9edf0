package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
)

// ProductLine is revenue and cost attributed to one product.
type ProductLine struct {
	ProductID string          `json:"product_id"`
	Currency  string          `json:"currency"`
	Revenue   decimal.Decimal `json:"revenue"`
	COGS      decimal.Decimal `json:"cogs"`
	Margin    decimal.Decimal `json:"margin"`
	// MarginRate is Margin over Revenue, zero when the product has no revenue.
	MarginRate decimal.Decimal `json:"margin_rate"`
}

// Balance is an account balance in one currency.
type Balance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Service is the period aggregator. Every method is a read.
type Service struct {
	repo            Repository
	defaultCurrency string
}

// NewService wires the aggregator. defaultCurrency labels empty summaries.
func NewService(repo Repository, defaultCurrency string) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reporting repository required")
	}
	if strings.TrimSpace(defaultCurrency) == "" {
		defaultCurrency = enums.CurrencyUSD.String()
	}
	return &Service{repo: repo, defaultCurrency: strings.ToUpper(defaultCurrency)}, nil
}

// Summarize folds ledger entries whose transaction occurred in [start, end).
func (s *Service) Summarize(ctx context.Context, merchantID string, start, end time.Time) (Summary, error) {
	if err := validateWindow(merchantID, start, end); err != nil {
		return Summary{}, err
	}
	rows, err := s.repo.AccountTotals(ctx, merchantID, start, end)
	if err != nil {
		return Summary{}, readError("summarize ledger", err)
	}
	orders, err := s.repo.CountTransactions(ctx, merchantID, enums.EventTypeOrderCreated, start, end)
	if err != nil {
		return Summary{}, readError("count orders", err)
	}
	return Fold(merchantID, start, end, rows, orders, s.defaultCurrency), nil
}

// OrderCount counts order transactions in [start, end).
func (s *Service) OrderCount(ctx context.Context, merchantID string, start, end time.Time) (int64, error) {
	if err := validateWindow(merchantID, start, end); err != nil {
		return 0, err
	}
	count, err := s.repo.CountTransactions(ctx, merchantID, enums.EventTypeOrderCreated, start, end)
	if err != nil {
		return 0, readError("count orders", err)
	}
	return count, nil
}

// ProductBreakdown returns per-product revenue and COGS for currency, ordered
// by revenue descending. An empty currency includes every currency.
func (s *Service) ProductBreakdown(ctx context.Context, merchantID, currency string, start, end time.Time) ([]ProductLine, error) {
	if err := validateWindow(merchantID, start, end); err != nil {
		return nil, err
	}
	rows, err := s.repo.ProductTotals(ctx, merchantID, start, end)
	if err != nil {
		return nil, readError("product breakdown", err)
	}

	type key struct{ product, currency string }
	lines := map[key]*ProductLine{}
	for _, row := range rows {
		if currency != "" && row.Currency != currency {
			continue
		}
		k := key{row.ProductID, row.Currency}
		line, ok := lines[k]
		if !ok {
			line = &ProductLine{ProductID: row.ProductID, Currency: row.Currency}
			lines[k] = line
		}
		switch {
		case row.Account == enums.AccountRevenue && row.Direction == enums.DirectionCredit:
			line.Revenue = line.Revenue.Add(row.Total)
		case row.Account == enums.AccountRevenue:
			line.Revenue = line.Revenue.Sub(row.Total)
		case row.Account == enums.AccountCOGS && row.Direction == enums.DirectionDebit:
			line.COGS = line.COGS.Add(row.Total)
		case row.Account == enums.AccountCOGS:
			line.COGS = line.COGS.Sub(row.Total)
		}
	}

	out := make([]ProductLine, 0, len(lines))
	for _, line := range lines {
		line.Revenue = line.Revenue.Round(2)
		line.COGS = line.COGS.Round(2)
		line.Margin = line.Revenue.Sub(line.COGS)
		line.MarginRate = decimal.Zero
		if line.Revenue.IsPositive() {
			line.MarginRate = line.Margin.DivRound(line.Revenue, 4)
		}
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Revenue.Equal(out[j].Revenue) {
			return out[i].Revenue.GreaterThan(out[j].Revenue)
		}
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// CashBalance returns the cash position per currency from transactions that
// occurred before asOf.
func (s *Service) CashBalance(ctx context.Context, merchantID string, asOf time.Time) ([]Balance, error) {
	if strings.TrimSpace(merchantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	rows, err := s.repo.CashTotals(ctx, merchantID, asOf)
	if err != nil {
		return nil, readError("cash balance", err)
	}

	byCurrency := map[string]decimal.Decimal{}
	for _, row := range rows {
		amount := row.Total
		if row.Direction == enums.DirectionCredit {
			amount = amount.Neg()
		}
		byCurrency[row.Currency] = byCurrency[row.Currency].Add(amount)
	}
	out := make([]Balance, 0, len(byCurrency))
	for currency, amount := range byCurrency {
		out = append(out, Balance{Currency: currency, Amount: amount.Round(2)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// BalanceIn picks the balance for currency, zero when absent.
func BalanceIn(balances []Balance, currency string) decimal.Decimal {
	for _, b := range balances {
		if b.Currency == currency {
			return b.Amount
		}
	}
	return decimal.Zero
}

func validateWindow(merchantID string, start, end time.Time) error {
	if strings.TrimSpace(merchantID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return pkgerrors.New(pkgerrors.CodeValidation, "start must be before end").
			WithDetails(map[string]any{"start": start, "end": end})
	}
	return nil
}

func readError(op string, err error) error {
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+" failed")
}
