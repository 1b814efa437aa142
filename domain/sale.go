package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how a sale was settled at the till.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentDebt         PaymentMethod = "debt"
)

// Valid reports whether m is one of the known payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobileMoney, PaymentBankTransfer, PaymentDebt:
		return true
	}
	return false
}

// IsCredit reports whether the sale leaves the customer owing money.
func (m PaymentMethod) IsCredit() bool {
	return m == PaymentDebt
}

// SaleType distinguishes counter sales from orders taken remotely.
type SaleType string

const (
	SaleWalkIn SaleType = "walk_in"
	SaleOnline SaleType = "online"
)

type SaleItem struct {
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

// TotalPrice is quantity × unit price.
func (i SaleItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Profit is the line total minus quantity × cost price.
func (i SaleItem) Profit() decimal.Decimal {
	return i.TotalPrice().Sub(i.CostPrice.Mul(decimal.NewFromInt(i.Quantity)))
}

// SaleRecord is one point-of-sale transaction. It is created once and only
// ever moves from pending to committed.
type SaleRecord struct {
	LocalID       string          `json:"local_id"`
	BusinessID    string          `json:"business_id"`
	Items         []SaleItem      `json:"items"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	SaleType      SaleType        `json:"sale_type"`
	Notes         string          `json:"notes,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	SoldBy        string          `json:"sold_by"`
}

// ItemsTotal sums the line totals of the record's items.
func (s SaleRecord) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

// ItemsProfit sums the per-line profit.
func (s SaleRecord) ItemsProfit() decimal.Decimal {
	profit := decimal.Zero
	for _, item := range s.Items {
		profit = profit.Add(item.Profit())
	}
	return profit
}

// SaleHeader is the row persisted in the remote sales table.
type SaleHeader struct {
	ID            string          `json:"id"`
	LocalID       string          `json:"local_id"`
	BusinessID    string          `json:"business_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	SaleType      SaleType        `json:"sale_type"`
	Notes         string          `json:"notes,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	SoldBy        string          `json:"sold_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Header projects the record onto the remote sales row.
func (s SaleRecord) Header() SaleHeader {
	return SaleHeader{
		LocalID:       s.LocalID,
		BusinessID:    s.BusinessID,
		CustomerName:  s.CustomerName,
		CustomerPhone: s.CustomerPhone,
		PaymentMethod: s.PaymentMethod,
		SaleType:      s.SaleType,
		Notes:         s.Notes,
		TotalAmount:   s.TotalAmount,
		SoldBy:        s.SoldBy,
		CreatedAt:     s.CreatedAt,
	}
}
