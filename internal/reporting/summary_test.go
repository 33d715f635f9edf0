package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

var (
	windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

func row(account enums.LedgerAccount, dir enums.EntryDirection, txnType enums.EventType, currency, amount string) AccountTotal {
	return AccountTotal{
		Account:         account,
		Direction:       dir,
		TransactionType: txnType,
		Currency:        currency,
		Total:           decimal.RequireFromString(amount),
	}
}

func TestFoldOrderAndFullRefund(t *testing.T) {
	order := []AccountTotal{
		row(enums.AccountCashPosition, enums.DirectionDebit, enums.EventTypeOrderCreated, "USD", "1000"),
		row(enums.AccountRevenue, enums.DirectionCredit, enums.EventTypeOrderCreated, "USD", "970"),
		row(enums.AccountPlatformFees, enums.DirectionCredit, enums.EventTypeOrderCreated, "USD", "30"),
	}

	s := Fold("m-1", windowStart, windowEnd, order, 1, "USD")
	expect(t, "revenue", s.Revenue, "970")
	expect(t, "fees", s.Fees, "30")
	expect(t, "net profit", s.NetProfit, "970")
	expect(t, "roi", s.ROI, "0")
	if s.OrderCount != 1 || s.Currency != "USD" {
		t.Fatalf("unexpected summary %+v", s)
	}

	refunded := append(order,
		row(enums.AccountRefunds, enums.DirectionDebit, enums.EventTypeRefundCreated, "USD", "970"),
		row(enums.AccountPlatformFees, enums.DirectionDebit, enums.EventTypeRefundCreated, "USD", "30"),
		row(enums.AccountCashPosition, enums.DirectionCredit, enums.EventTypeRefundCreated, "USD", "1000"),
	)
	s = Fold("m-1", windowStart, windowEnd, refunded, 1, "USD")
	expect(t, "revenue after refund", s.Revenue, "0")
	expect(t, "fees after refund", s.Fees, "0")
	if s.NetProfit.IsPositive() {
		t.Fatalf("expected net profit <= 0, got %s", s.NetProfit)
	}
}

func TestFoldExpensesAndROI(t *testing.T) {
	rows := []AccountTotal{
		row(enums.AccountRevenue, enums.DirectionCredit, enums.EventTypeOrderCreated, "USD", "2000"),
		row(enums.AccountPaymentProcessingFees, enums.DirectionCredit, enums.EventTypeOrderCreated, "USD", "60"),
		row(enums.AccountCOGS, enums.DirectionDebit, enums.EventTypeOrderCreated, "USD", "700"),
		row(enums.AccountAdSpend, enums.DirectionDebit, enums.EventTypeAdSpendRecorded, "USD", "300"),
		row(enums.AccountPlatformFees, enums.DirectionDebit, enums.EventTypeManualEntry, "USD", "49"),
		row(enums.AccountRevenue, enums.DirectionCredit, enums.EventTypeOrderCreated, "EUR", "10"),
	}

	s := Fold("m-1", windowStart, windowEnd, rows, 4, "USD")
	expect(t, "fees", s.Fees, "109")
	expect(t, "expense fees", s.ExpenseFees, "49")
	// 2000 - 49 - 300 - 700
	expect(t, "net profit", s.NetProfit, "951")
	expect(t, "roi", s.ROI, "3.17")
	if len(s.Currencies) != 2 || s.Currencies[0] != "EUR" {
		t.Fatalf("unexpected currencies %v", s.Currencies)
	}
}

func TestFoldEmptyWindow(t *testing.T) {
	s := Fold("m-1", windowStart, windowEnd, nil, 0, "CAD")
	if !s.IsEmpty() || s.Currency != "CAD" {
		t.Fatalf("unexpected empty summary %+v", s)
	}
	expect(t, "net profit", s.NetProfit, "0")
	expect(t, "refund rate", s.RefundRate(), "0")
	expect(t, "fee ratio", s.FeeRatio(), "0")
}

func TestFoldIsDeterministic(t *testing.T) {
	rows := []AccountTotal{
		row(enums.AccountRevenue, enums.DirectionCredit, enums.EventTypeOrderCreated, "USD", "10"),
		row(enums.AccountRevenue, enums.DirectionCredit, enums.EventTypeOrderCreated, "EUR", "10"),
	}
	a := Fold("m-1", windowStart, windowEnd, rows, 0, "USD")
	b := Fold("m-1", windowStart, windowEnd, []AccountTotal{rows[1], rows[0]}, 0, "USD")
	if a.Currency != b.Currency || a.Currency != "EUR" {
		t.Fatalf("tie-break differs: %s vs %s", a.Currency, b.Currency)
	}
}

func expect(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: got %s want %s", name, got, want)
	}
}
