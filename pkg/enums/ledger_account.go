package enums

import "fmt"

// LedgerAccount is the fixed chart of accounts entries post against.
type LedgerAccount string

const (
	AccountRevenue               LedgerAccount = "revenue"
	AccountRefunds               LedgerAccount = "refunds"
	AccountPlatformFees          LedgerAccount = "platform_fees"
	AccountPaymentProcessingFees LedgerAccount = "payment_processing_fees"
	// AccountRetainedFees holds fees kept by the platform on refunded sales.
	AccountRetainedFees          LedgerAccount = "retained_fees"
	AccountAdSpend               LedgerAccount = "ad_spend"
	AccountCOGS                  LedgerAccount = "cogs"
	AccountInventory             LedgerAccount = "inventory"
	AccountCashPosition          LedgerAccount = "cash_position"
	AccountAccountsReceivable    LedgerAccount = "accounts_receivable"
	AccountOwnerEquity           LedgerAccount = "owner_equity"
)

var validLedgerAccounts = []LedgerAccount{
	AccountRevenue,
	AccountRefunds,
	AccountPlatformFees,
	AccountPaymentProcessingFees,
	AccountRetainedFees,
	AccountAdSpend,
	AccountCOGS,
	AccountInventory,
	AccountCashPosition,
	AccountAccountsReceivable,
	AccountOwnerEquity,
}

// String implements fmt.Stringer.
func (a LedgerAccount) String() string {
	return string(a)
}

// IsValid reports whether the account belongs to the chart of accounts.
func (a LedgerAccount) IsValid() bool {
	for _, candidate := range validLedgerAccounts {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsFee reports whether the account tracks platform or processing fees.
func (a LedgerAccount) IsFee() bool {
	return a == AccountPlatformFees || a == AccountPaymentProcessingFees
}

// ParseLedgerAccount converts raw input into a LedgerAccount.
func ParseLedgerAccount(value string) (LedgerAccount, error) {
	for _, candidate := range validLedgerAccounts {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger account %q", value)
}

// EntryDirection is the side of a double-entry leg.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// IsValid reports whether the direction is debit or credit.
func (d EntryDirection) IsValid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// Opposite returns the other side of the entry.
func (d EntryDirection) Opposite() EntryDirection {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// ParseEntryDirection converts raw input into an EntryDirection.
func ParseEntryDirection(value string) (EntryDirection, error) {
	switch EntryDirection(value) {
	case DirectionDebit, DirectionCredit:
		return EntryDirection(value), nil
	}
	return "", fmt.Errorf("invalid entry direction %q", value)
}
