// Package ledger is the remote ledger: the store of committed sales, debts
// and debt payments, and the client used to reach it.
package ledger

import (
	"context"

	"bizledger/domain"

	"github.com/shopspring/decimal"
)

// Remote is the remote ledger as seen by the sync engine and the debt
// updater. InsertSale and InsertDebt are keyed so a replay returns the
// existing id with ErrDuplicateSale/ErrDuplicateDebt instead of a second row.
type Remote interface {
	InsertSale(ctx context.Context, header domain.SaleHeader) (string, error)
	InsertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error
	InsertDebt(ctx context.Context, debt domain.Debt) (string, error)
	GetDebt(ctx context.Context, debtID string) (domain.Debt, error)
	ListDebts(ctx context.Context, businessID string, status domain.DebtStatus) ([]domain.Debt, error)
	ApplyDebtPayment(ctx context.Context, write PaymentWrite) (domain.Debt, error)
	ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error)
}

// PaymentWrite sets a debt's remaining balance and appends the payment row
// in one step. It only applies if the debt is still at ExpectedVersion.
type PaymentWrite struct {
	DebtID          string             `json:"debt_id"`
	ExpectedVersion int64              `json:"expected_version"`
	NewRemaining    decimal.Decimal    `json:"new_remaining"`
	Payment         domain.DebtPayment `json:"payment"`
}
