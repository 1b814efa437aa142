// Package debt keeps customer debts consistent with the sales that create
// them and the payments that settle them.
package debt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizledger/domain"
	"bizledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultMaxAttempts = 3

// DebtInput describes a debt recorded by hand rather than by a credit sale.
type DebtInput struct {
	BusinessID  string
	DebtorName  string
	DebtorPhone string
	DebtorEmail string
	DebtType    string
	Description string
	Amount      decimal.Decimal
	DueDate     *time.Time
	RecordedBy  string
}

type PaymentInput struct {
	DebtID     string
	Amount     decimal.Decimal
	Method     domain.PaymentMethod
	Notes      string
	RecordedBy string
}

// Updater is the only writer of debt balances. Payments against one debt are
// serialised in-process by a per-debt lock and across processes by the
// ledger's version check.
type Updater struct {
	remote      ledger.Remote
	locks       keyedMutex
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

func NewUpdater(remote ledger.Remote, logger zerolog.Logger) *Updater {
	return &Updater{
		remote:      remote,
		logger:      logger.With().Str("component", "debt").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: defaultMaxAttempts,
	}
}

// CreateForSale opens the debt for a committed credit sale. Each sale gets its
// own debt; calling again for the same sale returns the existing debt id.
func (u *Updater) CreateForSale(ctx context.Context, record domain.SaleRecord, saleID string) (string, error) {
	if !record.PaymentMethod.IsCredit() {
		return "", ErrNotCreditSale
	}

	d := domain.Debt{
		BusinessID:      record.BusinessID,
		DebtorName:      record.CustomerName,
		DebtorPhone:     record.CustomerPhone,
		DebtType:        domain.DebtTypeCustomer,
		Description:     describeSale(record),
		OriginalAmount:  record.TotalAmount,
		RemainingAmount: record.TotalAmount,
		Status:          domain.DebtActive,
		RelatedSaleID:   saleID,
		RecordedBy:      record.SoldBy,
	}

	id, err := u.remote.InsertDebt(ctx, d)
	if errors.Is(err, ledger.ErrDuplicateDebt) && id != "" {
		u.logger.Debug().Str("sale_id", saleID).Str("debt_id", id).Msg("debt already exists for sale")
		return id, nil
	}
	if err != nil {
		return "", err
	}

	u.logger.Info().
		Str("debt_id", id).
		Str("sale_id", saleID).
		Str("amount", record.TotalAmount.String()).
		Msg("debt created for credit sale")
	return id, nil
}

// Create records a debt that no sale produced, such as an opening balance or
// money the business owes a supplier. An empty DebtType means customer_debt.
func (u *Updater) Create(ctx context.Context, in DebtInput) (domain.Debt, error) {
	name := strings.TrimSpace(in.DebtorName)
	if name == "" {
		return domain.Debt{}, ErrMissingDebtor
	}
	if !in.Amount.IsPositive() {
		return domain.Debt{}, ErrInvalidAmount
	}
	debtType := in.DebtType
	if debtType == "" {
		debtType = domain.DebtTypeCustomer
	}
	if !domain.ValidDebtType(debtType) {
		return domain.Debt{}, ErrInvalidDebtType
	}

	id, err := u.remote.InsertDebt(ctx, domain.Debt{
		BusinessID:      in.BusinessID,
		DebtorName:      name,
		DebtorPhone:     strings.TrimSpace(in.DebtorPhone),
		DebtorEmail:     strings.TrimSpace(in.DebtorEmail),
		DebtType:        debtType,
		Description:     strings.TrimSpace(in.Description),
		OriginalAmount:  in.Amount,
		RemainingAmount: in.Amount,
		Status:          domain.DebtActive,
		DueDate:         in.DueDate,
		RecordedBy:      in.RecordedBy,
	})
	if err != nil {
		return domain.Debt{}, err
	}

	u.logger.Info().
		Str("debt_id", id).
		Str("debt_type", debtType).
		Str("amount", in.Amount.String()).
		Msg("debt recorded")
	return u.remote.GetDebt(ctx, id)
}

// ApplyPayment reduces a debt's remaining balance and records the payment.
// A payment larger than the balance is rejected with *OverpaymentError and
// nothing is written. A paid debt has nothing left, so any payment on it
// overpays; only a cancelled debt returns ErrDebtNotPayable.
func (u *Updater) ApplyPayment(ctx context.Context, in PaymentInput) (domain.Debt, domain.DebtPayment, error) {
	if !in.Amount.IsPositive() {
		return domain.Debt{}, domain.DebtPayment{}, ErrInvalidAmount
	}
	if !in.Method.Valid() || in.Method.IsCredit() {
		return domain.Debt{}, domain.DebtPayment{}, ErrInvalidMethod
	}

	unlock := u.locks.Lock(in.DebtID)
	defer unlock()

	// One id for every attempt, so a retried write the ledger already
	// applied is recognised instead of counted twice.
	payment := domain.DebtPayment{
		ID:            u.newID(),
		DebtID:        in.DebtID,
		Amount:        in.Amount,
		PaymentMethod: in.Method,
		Notes:         strings.TrimSpace(in.Notes),
		RecordedBy:    in.RecordedBy,
		RecordedAt:    u.now().UTC(),
	}

	for attempt := 1; ; attempt++ {
		current, err := u.remote.GetDebt(ctx, in.DebtID)
		if err != nil {
			return domain.Debt{}, domain.DebtPayment{}, err
		}
		if err := rejectPayment(current, in.Amount); err != nil {
			return current, domain.DebtPayment{}, err
		}

		write := ledger.PaymentWrite{
			DebtID:          in.DebtID,
			ExpectedVersion: current.Version,
			NewRemaining:    current.RemainingAmount.Sub(in.Amount),
			Payment:         payment,
		}
		updated, err := u.remote.ApplyDebtPayment(ctx, write)
		switch {
		case err == nil:
			u.logger.Info().
				Str("debt_id", in.DebtID).
				Str("amount", in.Amount.String()).
				Str("remaining", updated.RemainingAmount.String()).
				Str("status", string(updated.Status)).
				Msg("debt payment applied")
			return updated, payment, nil
		case errors.Is(err, ledger.ErrVersionConflict):
			if attempt >= u.maxAttempts {
				return current, domain.DebtPayment{}, fmt.Errorf("%w: %v", ErrContention, err)
			}
			u.logger.Warn().Str("debt_id", in.DebtID).Int("attempt", attempt).Msg("debt changed during payment, retrying")
		case errors.Is(err, ledger.ErrOverpayment), errors.Is(err, ledger.ErrDebtClosed):
			// The ledger saw a newer balance than our read; classify against it.
			latest, gerr := u.remote.GetDebt(ctx, in.DebtID)
			if gerr != nil {
				return current, domain.DebtPayment{}, gerr
			}
			if rerr := rejectPayment(latest, in.Amount); rerr != nil {
				return latest, domain.DebtPayment{}, rerr
			}
			if attempt >= u.maxAttempts {
				return latest, domain.DebtPayment{}, fmt.Errorf("%w: %v", ErrContention, err)
			}
		default:
			return current, domain.DebtPayment{}, err
		}
	}
}

// Outstanding is the total still owed to the business across active debts.
func (u *Updater) Outstanding(ctx context.Context, businessID string) (decimal.Decimal, error) {
	debts, err := u.remote.ListDebts(ctx, businessID, domain.DebtActive)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range debts {
		total = total.Add(d.RemainingAmount)
	}
	return total, nil
}

func rejectPayment(d domain.Debt, amount decimal.Decimal) error {
	if d.Status == domain.DebtCancelled {
		return ErrDebtNotPayable
	}
	if amount.GreaterThan(d.RemainingAmount) {
		return &OverpaymentError{DebtID: d.ID, Amount: amount, Remaining: d.RemainingAmount}
	}
	if d.Status != domain.DebtActive {
		return ErrDebtNotPayable
	}
	return nil
}

func describeSale(record domain.SaleRecord) string {
	names := make([]string, 0, len(record.Items))
	for _, item := range record.Items {
		names = append(names, item.Name)
	}
	return "Sale debt for " + strings.Join(names, ", ")
}
