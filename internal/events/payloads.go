package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Payload is the closed set of typed event bodies. Only this package can add
// variants, so every switch over Payload in the module stays exhaustive.
type Payload interface {
	Type() enums.EventType
	// EventTime is when the upstream fact happened, zero when unknown.
	EventTime() time.Time
	sealed()
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Cost      decimal.Decimal `json:"cost"`
}

// OrderCreated is a placed and paid order as reported by a sales channel.
type OrderCreated struct {
	OrderID       string          `json:"order_id" validate:"required"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Channel       string          `json:"channel"`
	LineItems     []LineItem      `json:"line_items" validate:"dive"`
}

// RefundCreated returns money to a buyer for a prior order.
type RefundCreated struct {
	RefundID    string          `json:"refund_id" validate:"required"`
	OrderID     string          `json:"order_id" validate:"required"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	Amount      decimal.Decimal `json:"amount"`
	FeeReversed decimal.Decimal `json:"fee_reversed"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// AdSpendRecorded is one day of spend for a campaign on an ad platform.
type AdSpendRecorded struct {
	SpendID    string          `json:"spend_id,omitempty"`
	Platform   string          `json:"platform" validate:"required"`
	CampaignID string          `json:"campaign_id" validate:"required"`
	Date       string          `json:"date" validate:"required,datetime=2006-01-02"`
	Currency   string          `json:"currency" validate:"required,len=3"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// ManualEntry is an operator adjustment posted against a named account.
type ManualEntry struct {
	EntryID        string               `json:"entry_id" validate:"required"`
	Account        enums.LedgerAccount  `json:"account" validate:"required"`
	Direction      enums.EntryDirection `json:"direction" validate:"required"`
	Amount         decimal.Decimal      `json:"amount"`
	CounterAccount enums.LedgerAccount  `json:"counter_account,omitempty"`
	Currency       string               `json:"currency" validate:"required,len=3"`
	Memo           string               `json:"memo"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// AppDisconnected signals the merchant removed an integration; it triggers erasure.
type AppDisconnected struct {
	ConnectionID   string    `json:"connection_id" validate:"required"`
	StreamTypes    []string  `json:"stream_types" validate:"required,min=1,dive,required"`
	DisconnectedAt time.Time `json:"disconnected_at"`
}

func (OrderCreated) Type() enums.EventType    { return enums.EventTypeOrderCreated }
func (RefundCreated) Type() enums.EventType   { return enums.EventTypeRefundCreated }
func (AdSpendRecorded) Type() enums.EventType { return enums.EventTypeAdSpendRecorded }
func (ManualEntry) Type() enums.EventType     { return enums.EventTypeManualEntry }
func (AppDisconnected) Type() enums.EventType { return enums.EventTypeAppDisconnected }

func (p OrderCreated) EventTime() time.Time  { return p.OccurredAt.UTC() }
func (p RefundCreated) EventTime() time.Time { return p.OccurredAt.UTC() }
func (p ManualEntry) EventTime() time.Time   { return p.OccurredAt.UTC() }

func (p AppDisconnected) EventTime() time.Time { return p.DisconnectedAt.UTC() }

// EventTime falls back to midnight UTC of the spend date.
func (p AdSpendRecorded) EventTime() time.Time {
	if p.OccurredAt != nil && !p.OccurredAt.IsZero() {
		return p.OccurredAt.UTC()
	}
	day, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return time.Time{}
	}
	return day.UTC()
}

func (OrderCreated) sealed()    {}
func (RefundCreated) sealed()   {}
func (AdSpendRecorded) sealed() {}
func (ManualEntry) sealed()     {}
func (AppDisconnected) sealed() {}

// TotalFees is the platform plus processing fee withheld from the payout,
// each rounded to cents as the ledger posts them.
func (p OrderCreated) TotalFees() decimal.Decimal {
	return Cents(p.PlatformFee).Add(Cents(p.ProcessingFee))
}

// Cents rounds an amount to the two places the ledger stores.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
