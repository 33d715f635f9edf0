package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// ErrUnbalancedEntry means a mapping rule produced legs whose debits and
// credits differ. It is a logic defect and is never corrected silently.
var ErrUnbalancedEntry = errors.New("ledger entries do not balance")

// Imbalance describes one currency whose legs do not net to zero.
type Imbalance struct {
	Currency string          `json:"currency"`
	Debits   decimal.Decimal `json:"debits"`
	Credits  decimal.Decimal `json:"credits"`
}

// UnbalancedError carries the per-currency totals of a failed balance check.
type UnbalancedError struct {
	Imbalances []Imbalance
}

func (e *UnbalancedError) Error() string {
	first := e.Imbalances[0]
	return fmt.Sprintf("%s: %s debits %s credits %s", ErrUnbalancedEntry, first.Currency, first.Debits, first.Credits)
}

func (e *UnbalancedError) Unwrap() error { return ErrUnbalancedEntry }

// CheckBalance verifies that debits equal credits per currency and that every
// leg is a positive amount on a known account.
func CheckBalance(legs []Posting) error {
	type totals struct{ debits, credits decimal.Decimal }
	byCurrency := map[string]*totals{}

	for i, leg := range legs {
		if !leg.Account.IsValid() {
			return fmt.Errorf("%w: leg %d has unknown account %q", ErrUnbalancedEntry, i, leg.Account)
		}
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("%w: leg %d amount %s is not positive", ErrUnbalancedEntry, i, leg.Amount)
		}
		t, ok := byCurrency[leg.Currency]
		if !ok {
			t = &totals{}
			byCurrency[leg.Currency] = t
		}
		switch leg.Direction {
		case enums.DirectionDebit:
			t.debits = t.debits.Add(leg.Amount)
		case enums.DirectionCredit:
			t.credits = t.credits.Add(leg.Amount)
		default:
			return fmt.Errorf("%w: leg %d has direction %q", ErrUnbalancedEntry, i, leg.Direction)
		}
	}

	var imbalances []Imbalance
	for currency, t := range byCurrency {
		if !t.debits.Equal(t.credits) {
			imbalances = append(imbalances, Imbalance{Currency: currency, Debits: t.debits, Credits: t.credits})
		}
	}
	if len(imbalances) == 0 {
		return nil
	}
	sort.Slice(imbalances, func(i, j int) bool { return imbalances[i].Currency < imbalances[j].Currency })
	return &UnbalancedError{Imbalances: imbalances}
}
