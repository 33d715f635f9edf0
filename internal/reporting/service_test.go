package reporting

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/ledger"
	"github.com/angelmondragon/marginguard-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type ledgerHarness struct {
	log       *eventlog.Service
	projector *ledger.Projector
	svc       *Service
}

func newLedgerHarness(t *testing.T) ledgerHarness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{Output: io.Discard})
	events := eventlog.NewRepository(client.DB())
	log, err := eventlog.NewService(events, logg)
	require.NoError(t, err)
	projector, err := ledger.NewProjector(events, ledger.NewRepository(client.DB()), client, logg)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(client.DB()), "USD")
	require.NoError(t, err)
	return ledgerHarness{log: log, projector: projector, svc: svc}
}

func (h ledgerHarness) submit(t *testing.T, eventType enums.EventType, payload string) {
	t.Helper()
	res, err := h.log.Ingest(context.Background(), eventlog.IngestInput{
		MerchantID: "m-1",
		StreamType: "shopify",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  eventType,
		Payload:    json.RawMessage(payload),
	})
	require.NoError(t, err)
	_, err = h.projector.Project(context.Background(), res.EventID)
	require.NoError(t, err)
}

func TestSummarizeOrderThenRefund(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	h.submit(t, enums.EventTypeOrderCreated,
		`{"order_id":"1001","currency":"USD","gross_amount":"1000","platform_fee":"30","occurred_at":"2026-03-02T10:00:00Z"}`)

	s, err := h.svc.Summarize(ctx, "m-1", windowStart, windowEnd)
	require.NoError(t, err)
	expect(t, "revenue", s.Revenue, "970")
	expect(t, "fees", s.Fees, "30")
	expect(t, "net profit", s.NetProfit, "970")
	assert.Equal(t, int64(1), s.OrderCount)

	again, err := h.svc.Summarize(ctx, "m-1", windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, s, again)

	h.submit(t, enums.EventTypeRefundCreated,
		`{"refund_id":"r-1","order_id":"1001","currency":"USD","amount":"1000","fee_reversed":"30","occurred_at":"2026-03-05T10:00:00Z"}`)

	s, err = h.svc.Summarize(ctx, "m-1", windowStart, windowEnd)
	require.NoError(t, err)
	expect(t, "revenue", s.Revenue, "0")
	assert.False(t, s.NetProfit.IsPositive())

	// The refund falls outside a window ending before it.
	early, err := h.svc.Summarize(ctx, "m-1", windowStart, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	expect(t, "revenue", early.Revenue, "970")

	cash, err := h.svc.CashBalance(ctx, "m-1", windowEnd)
	require.NoError(t, err)
	expect(t, "cash", BalanceIn(cash, "USD"), "0")
}

func TestSummarizeRefundWithoutFeeReversalKeepsFeeLoss(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	h.submit(t, enums.EventTypeOrderCreated,
		`{"order_id":"1001","currency":"USD","gross_amount":"1000","platform_fee":"30","occurred_at":"2026-03-02T10:00:00Z"}`)
	h.submit(t, enums.EventTypeRefundCreated,
		`{"refund_id":"r-1","order_id":"1001","currency":"USD","amount":"1000","occurred_at":"2026-03-05T10:00:00Z"}`)

	s, err := h.svc.Summarize(ctx, "m-1", windowStart, windowEnd)
	require.NoError(t, err)
	expect(t, "revenue", s.Revenue, "0")
	expect(t, "refunds", s.Refunds, "970")
	expect(t, "fees", s.Fees, "30")
	expect(t, "retained fees", s.RetainedFees, "30")
	expect(t, "net profit", s.NetProfit, "-30")

	cash, err := h.svc.CashBalance(ctx, "m-1", windowEnd)
	require.NoError(t, err)
	expect(t, "cash", BalanceIn(cash, "USD"), "0")
}

func TestSummarizePartialRefundChargesRevenueShare(t *testing.T) {
	h := newLedgerHarness(t)

	h.submit(t, enums.EventTypeOrderCreated,
		`{"order_id":"1001","currency":"USD","gross_amount":"1000","platform_fee":"20","processing_fee":"10","occurred_at":"2026-03-02T10:00:00Z"}`)
	h.submit(t, enums.EventTypeRefundCreated,
		`{"refund_id":"r-1","order_id":"1001","currency":"USD","amount":"500","occurred_at":"2026-03-05T10:00:00Z"}`)

	s, err := h.svc.Summarize(context.Background(), "m-1", windowStart, windowEnd)
	require.NoError(t, err)
	expect(t, "revenue", s.Revenue, "485")
	expect(t, "retained fees", s.RetainedFees, "15")
	expect(t, "net profit", s.NetProfit, "470")
}

func TestProductBreakdown(t *testing.T) {
	h := newLedgerHarness(t)
	h.submit(t, enums.EventTypeOrderCreated, `{
		"order_id":"1","currency":"USD","gross_amount":"300","occurred_at":"2026-03-02T10:00:00Z",
		"line_items":[{"product_id":"mug","amount":"200","cost":"180"},{"product_id":"tee","amount":"100","cost":"20"}]}`)

	lines, err := h.svc.ProductBreakdown(context.Background(), "m-1", "USD", windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "mug", lines[0].ProductID)
	expect(t, "mug margin", lines[0].Margin, "20")
	expect(t, "mug margin rate", lines[0].MarginRate, "0.1")
	expect(t, "tee margin rate", lines[1].MarginRate, "0.8")
}

func TestSummarizeValidatesWindow(t *testing.T) {
	h := newLedgerHarness(t)
	_, err := h.svc.Summarize(context.Background(), "m-1", windowEnd, windowStart)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = h.svc.Summarize(context.Background(), "", windowStart, windowEnd)
	require.Error(t, err)
}
