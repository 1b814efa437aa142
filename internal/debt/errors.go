package debt

import (
	"errors"
	"fmt"

	"bizledger/internal/ledger"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("payment amount must be positive")
	ErrInvalidMethod = errors.New("invalid payment method for a debt payment")
	ErrNotCreditSale = errors.New("sale was not made on credit")

	ErrMissingDebtor   = errors.New("debtor name is required")
	ErrInvalidDebtType = errors.New("debt type must be customer_debt or business_debt")

	// ErrDebtNotPayable is returned for a cancelled debt.
	ErrDebtNotPayable = errors.New("debt is not active")

	// ErrContention is returned when the debt kept changing under the
	// payment for every allowed attempt.
	ErrContention = errors.New("debt changed concurrently; payment not applied")
)

// OverpaymentError rejects a payment larger than the debt's remaining
// balance. The debt is left untouched.
type OverpaymentError struct {
	DebtID    string
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("debt %s: payment %s exceeds remaining balance %s", e.DebtID, e.Amount, e.Remaining)
}

// Is lets callers match either the typed error or ledger.ErrOverpayment.
func (e *OverpaymentError) Is(target error) bool {
	return target == ledger.ErrOverpayment
}
