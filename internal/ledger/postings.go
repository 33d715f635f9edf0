package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/internal/events"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// ErrNotProjectable is returned by Map for events that never touch the ledger.
var ErrNotProjectable = errors.New("event is not projectable")

// Posting is one leg produced by a mapping rule, before it is persisted.
type Posting struct {
	Account   enums.LedgerAccount
	Direction enums.EntryDirection
	Amount    decimal.Decimal
	Currency  string
	ProductID *string
}

// Map turns a payload into its ledger legs. It is pure; zero-amount legs are
// dropped so every persisted entry carries a positive amount.
func Map(payload events.Payload) ([]Posting, error) {
	var legs []Posting
	switch p := payload.(type) {
	case events.OrderCreated:
		legs = mapOrder(p)
	case events.RefundCreated:
		legs = mapRefund(p, nil)
	case events.AdSpendRecorded:
		legs = mapAdSpend(p)
	case events.ManualEntry:
		legs = mapManualEntry(p)
	case events.AppDisconnected:
		return nil, ErrNotProjectable
	default:
		return nil, fmt.Errorf("%w: %T", events.ErrUnknownEventType, payload)
	}

	return dropZero(legs), nil
}

// MapRefund maps a refund against the order it pays back. Only the order's
// revenue share is charged to refunds; the fee share the platform does not
// reverse lands on retained fees. A nil order maps as Map does.
func MapRefund(p events.RefundCreated, order *events.OrderCreated) []Posting {
	return dropZero(mapRefund(p, order))
}

func dropZero(legs []Posting) []Posting {
	out := legs[:0]
	for _, leg := range legs {
		if leg.Amount.IsZero() {
			continue
		}
		out = append(out, leg)
	}
	return out
}

func mapOrder(p events.OrderCreated) []Posting {
	currency := normalizeCurrency(p.Currency)
	gross := events.Cents(p.GrossAmount)
	platformFee := events.Cents(p.PlatformFee)
	processingFee := events.Cents(p.ProcessingFee)
	net := gross.Sub(platformFee).Sub(processingFee)

	legs := []Posting{
		debit(enums.AccountCashPosition, gross, currency),
		credit(enums.AccountPlatformFees, platformFee, currency),
		credit(enums.AccountPaymentProcessingFees, processingFee, currency),
	}
	legs = append(legs, splitRevenue(net, p.LineItems, currency)...)

	for _, item := range p.LineItems {
		cost := events.Cents(item.Cost)
		if !cost.IsPositive() {
			continue
		}
		product := productRef(item.ProductID)
		cogs := debit(enums.AccountCOGS, cost, currency)
		cogs.ProductID = product
		inventory := credit(enums.AccountInventory, cost, currency)
		inventory.ProductID = product
		legs = append(legs, cogs, inventory)
	}
	return legs
}

// splitRevenue allocates net revenue across line items in proportion to their
// amounts. The last line absorbs rounding so the parts sum to net exactly.
func splitRevenue(net decimal.Decimal, items []events.LineItem, currency string) []Posting {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	if len(items) == 0 || !total.IsPositive() {
		return []Posting{credit(enums.AccountRevenue, net, currency)}
	}

	legs := make([]Posting, 0, len(items))
	allocated := decimal.Zero
	for i, item := range items {
		remaining := net.Sub(allocated)
		share := net.Mul(item.Amount).Div(total).Round(2)
		if i == len(items)-1 || share.GreaterThan(remaining) {
			share = remaining
		}
		allocated = allocated.Add(share)
		leg := credit(enums.AccountRevenue, share, currency)
		leg.ProductID = productRef(item.ProductID)
		legs = append(legs, leg)
	}
	return legs
}

func mapRefund(p events.RefundCreated, order *events.OrderCreated) []Posting {
	currency := normalizeCurrency(p.Currency)
	amount := events.Cents(p.Amount)
	feeReversed := events.Cents(p.FeeReversed)

	refunded := amount.Sub(feeReversed)
	retained := decimal.Zero
	if feeShare, ok := refundFeeShare(amount, order, currency); ok && feeShare.GreaterThan(feeReversed) {
		retained = feeShare.Sub(feeReversed)
		refunded = amount.Sub(feeShare)
	}
	return []Posting{
		debit(enums.AccountRefunds, refunded, currency),
		debit(enums.AccountPlatformFees, feeReversed, currency),
		debit(enums.AccountRetainedFees, retained, currency),
		credit(enums.AccountCashPosition, amount, currency),
	}
}

// refundFeeShare is the part of a refunded amount that the order paid out as
// fees, in proportion to the order's fees over its gross.
func refundFeeShare(amount decimal.Decimal, order *events.OrderCreated, currency string) (decimal.Decimal, bool) {
	if order == nil || normalizeCurrency(order.Currency) != currency {
		return decimal.Zero, false
	}
	gross := events.Cents(order.GrossAmount)
	if !gross.IsPositive() {
		return decimal.Zero, false
	}
	share := events.Cents(amount.Mul(order.TotalFees()).Div(gross))
	if share.GreaterThan(amount) {
		share = amount
	}
	return share, true
}

func mapAdSpend(p events.AdSpendRecorded) []Posting {
	currency := normalizeCurrency(p.Currency)
	amount := events.Cents(p.Amount)
	return []Posting{
		debit(enums.AccountAdSpend, amount, currency),
		credit(enums.AccountCashPosition, amount, currency),
	}
}

func mapManualEntry(p events.ManualEntry) []Posting {
	currency := normalizeCurrency(p.Currency)
	amount := events.Cents(p.Amount)
	counter := p.CounterAccount
	if counter == "" {
		counter = enums.AccountCashPosition
	}
	return []Posting{
		{Account: p.Account, Direction: p.Direction, Amount: amount, Currency: currency},
		{Account: counter, Direction: p.Direction.Opposite(), Amount: amount, Currency: currency},
	}
}

func debit(account enums.LedgerAccount, amount decimal.Decimal, currency string) Posting {
	return Posting{Account: account, Direction: enums.DirectionDebit, Amount: amount, Currency: currency}
}

func credit(account enums.LedgerAccount, amount decimal.Decimal, currency string) Posting {
	return Posting{Account: account, Direction: enums.DirectionCredit, Amount: amount, Currency: currency}
}

func productRef(id string) *string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
