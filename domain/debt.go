package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DebtStatus string

const (
	DebtActive    DebtStatus = "active"
	DebtPaid      DebtStatus = "paid"
	DebtCancelled DebtStatus = "cancelled"
)

const (
	// DebtTypeCustomer marks money owed to the business.
	DebtTypeCustomer = "customer_debt"
	// DebtTypeBusiness marks money the business owes, e.g. to a supplier.
	DebtTypeBusiness = "business_debt"
)

// ValidDebtType reports whether t is a known debt type.
func ValidDebtType(t string) bool {
	return t == DebtTypeCustomer || t == DebtTypeBusiness
}

// StatusFor derives a debt status from its remaining balance.
func StatusFor(remaining decimal.Decimal) DebtStatus {
	if remaining.IsZero() {
		return DebtPaid
	}
	return DebtActive
}

type Debt struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	DebtorName      string          `json:"debtor_name"`
	DebtorPhone     string          `json:"debtor_phone"`
	DebtorEmail     string          `json:"debtor_email,omitempty"`
	DebtType        string          `json:"debt_type"`
	Description     string          `json:"description"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          DebtStatus      `json:"status"`
	RelatedSaleID   string          `json:"related_sale_id,omitempty"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	RecordedBy      string          `json:"recorded_by"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Paid is the amount settled so far.
func (d Debt) Paid() decimal.Decimal {
	return d.OriginalAmount.Sub(d.RemainingAmount)
}

type DebtPayment struct {
	ID            string          `json:"id"`
	DebtID        string          `json:"debt_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Notes         string          `json:"notes,omitempty"`
	RecordedBy    string          `json:"recorded_by"`
	RecordedAt    time.Time       `json:"recorded_at"`
}
