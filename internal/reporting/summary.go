package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Summary is the profit picture of one merchant over [Start, End).
type Summary struct {
	MerchantID   string          `json:"merchant_id"`
	Currency     string          `json:"currency"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Refunds      decimal.Decimal `json:"refunds"`
	Revenue      decimal.Decimal `json:"revenue"`
	WithheldFees decimal.Decimal `json:"withheld_fees"`
	ExpenseFees  decimal.Decimal `json:"expense_fees"`
	// RetainedFees are fees kept on refunded sales; they are part of Fees
	// already and only reduce profit.
	RetainedFees decimal.Decimal `json:"retained_fees"`
	Fees         decimal.Decimal `json:"fees"`
	AdSpend      decimal.Decimal `json:"ad_spend"`
	COGS         decimal.Decimal `json:"cogs"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	ROI          decimal.Decimal `json:"roi"`
	OrderCount   int64           `json:"order_count"`
	// Currencies lists every currency seen in the window; figures above cover Currency only.
	Currencies []string `json:"currencies"`
}

// RefundRate is refunds over gross revenue, zero without revenue.
func (s Summary) RefundRate() decimal.Decimal {
	if !s.GrossRevenue.IsPositive() {
		return decimal.Zero
	}
	return s.Refunds.Div(s.GrossRevenue)
}

// FeeRatio is total fees over gross revenue, zero without revenue.
func (s Summary) FeeRatio() decimal.Decimal {
	if !s.GrossRevenue.IsPositive() {
		return decimal.Zero
	}
	return s.Fees.Div(s.GrossRevenue)
}

// IsEmpty reports whether no ledger legs fell inside the window.
func (s Summary) IsEmpty() bool {
	return len(s.Currencies) == 0
}

type accountFold struct {
	debits  decimal.Decimal
	credits decimal.Decimal
}

func (f accountFold) creditBalance() decimal.Decimal { return f.credits.Sub(f.debits) }
func (f accountFold) debitBalance() decimal.Decimal  { return f.debits.Sub(f.credits) }

// Fold derives a summary from grouped ledger totals. It is a pure function so
// identical ledger state always yields an identical summary.
func Fold(merchantID string, start, end time.Time, rows []AccountTotal, orderCount int64, fallbackCurrency string) Summary {
	currency, currencies := primaryCurrency(rows, fallbackCurrency)

	var revenue, refunds, adSpend, cogs, withheld, expense, retained accountFold
	for _, row := range rows {
		if row.Currency != currency {
			continue
		}
		var target *accountFold
		switch {
		case row.Account == enums.AccountRevenue:
			target = &revenue
		case row.Account == enums.AccountRefunds:
			target = &refunds
		case row.Account == enums.AccountAdSpend:
			target = &adSpend
		case row.Account == enums.AccountCOGS:
			target = &cogs
		case row.Account == enums.AccountRetainedFees:
			target = &retained
		case row.Account.IsFee() && row.TransactionType == enums.EventTypeManualEntry:
			target = &expense
		case row.Account.IsFee():
			target = &withheld
		default:
			continue
		}
		if row.Direction == enums.DirectionDebit {
			target.debits = target.debits.Add(row.Total)
		} else {
			target.credits = target.credits.Add(row.Total)
		}
	}

	s := Summary{
		MerchantID:   merchantID,
		Currency:     currency,
		Start:        start.UTC(),
		End:          end.UTC(),
		GrossRevenue: revenue.creditBalance().Round(2),
		Refunds:      refunds.debitBalance().Round(2),
		WithheldFees: withheld.creditBalance().Round(2),
		ExpenseFees:  expense.debitBalance().Round(2),
		RetainedFees: retained.debitBalance().Round(2),
		AdSpend:      adSpend.debitBalance().Round(2),
		COGS:         cogs.debitBalance().Round(2),
		OrderCount:   orderCount,
		Currencies:   currencies,
	}
	s.Revenue = s.GrossRevenue.Sub(s.Refunds)
	s.Fees = s.WithheldFees.Add(s.ExpenseFees)
	// Withheld fees never reached revenue, so only expensed fees reduce profit.
	s.NetProfit = s.GrossRevenue.Sub(s.Refunds).Sub(s.ExpenseFees).Sub(s.RetainedFees).Sub(s.AdSpend).Sub(s.COGS)
	s.ROI = decimal.Zero
	if s.AdSpend.IsPositive() {
		s.ROI = s.NetProfit.DivRound(s.AdSpend, 4)
	}
	return s
}

// primaryCurrency picks the currency carrying the most revenue, then the most
// activity, breaking ties alphabetically.
func primaryCurrency(rows []AccountTotal, fallback string) (string, []string) {
	type weight struct{ revenue, activity decimal.Decimal }
	weights := map[string]*weight{}
	for _, row := range rows {
		w, ok := weights[row.Currency]
		if !ok {
			w = &weight{}
			weights[row.Currency] = w
		}
		w.activity = w.activity.Add(row.Total)
		if row.Account == enums.AccountRevenue && row.Direction == enums.DirectionCredit {
			w.revenue = w.revenue.Add(row.Total)
		}
	}

	currencies := make([]string, 0, len(weights))
	for c := range weights {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	if len(currencies) == 0 {
		return fallback, currencies
	}

	best := currencies[0]
	for _, c := range currencies[1:] {
		w, b := weights[c], weights[best]
		if w.revenue.GreaterThan(b.revenue) || (w.revenue.Equal(b.revenue) && w.activity.GreaterThan(b.activity)) {
			best = c
		}
	}
	return best, currencies
}
