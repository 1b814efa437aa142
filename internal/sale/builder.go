// Package sale assembles self-contained sale records from till input.
package sale

import (
	"fmt"
	"strings"
	"time"

	"bizledger/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	Name      string
	Quantity  int64
	UnitPrice decimal.Decimal
	CostPrice decimal.Decimal
}

// Input is what the sale entry form collects. It has no total; the total is
// always derived from the items.
type Input struct {
	BusinessID    string
	Items         []ItemInput
	CustomerName  string
	CustomerPhone string
	PaymentMethod domain.PaymentMethod
	SaleType      domain.SaleType
	Notes         string
	SoldBy        string
}

// Builder stamps records with an id and creation time. The zero value uses
// random UUIDs and the wall clock.
type Builder struct {
	Now   func() time.Time
	NewID func() string
}

// Build validates input and returns a complete record. It performs no I/O.
func (b Builder) Build(in Input) (domain.SaleRecord, error) {
	if err := validate(in); err != nil {
		return domain.SaleRecord{}, err
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	newID := uuid.NewString
	if b.NewID != nil {
		newID = b.NewID
	}

	items := make([]domain.SaleItem, len(in.Items))
	for i, item := range in.Items {
		items[i] = domain.SaleItem{
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			CostPrice: item.CostPrice,
		}
	}

	saleType := in.SaleType
	if saleType == "" {
		saleType = domain.SaleWalkIn
	}

	record := domain.SaleRecord{
		LocalID:       newID(),
		BusinessID:    strings.TrimSpace(in.BusinessID),
		Items:         items,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		PaymentMethod: in.PaymentMethod,
		SaleType:      saleType,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now().UTC(),
		SoldBy:        strings.TrimSpace(in.SoldBy),
	}
	record.TotalAmount = record.ItemsTotal()

	return record, nil
}

// Build uses the zero Builder.
func Build(in Input) (domain.SaleRecord, error) {
	return Builder{}.Build(in)
}

// Verify re-checks a record that may have been read back from storage. The
// stored total must equal the sum of its items.
func Verify(record domain.SaleRecord) error {
	in := Input{
		BusinessID:    record.BusinessID,
		CustomerName:  record.CustomerName,
		CustomerPhone: record.CustomerPhone,
		PaymentMethod: record.PaymentMethod,
		SoldBy:        record.SoldBy,
		Items:         make([]ItemInput, len(record.Items)),
	}
	for i, item := range record.Items {
		in.Items[i] = ItemInput(item)
	}
	if err := validate(in); err != nil {
		return err
	}
	if strings.TrimSpace(record.LocalID) == "" {
		return invalid("local_id", fmt.Errorf("local id is required"))
	}
	if !record.TotalAmount.Equal(record.ItemsTotal()) {
		return invalid("total_amount", ErrTotalMismatch)
	}
	return nil
}

func validate(in Input) error {
	if strings.TrimSpace(in.BusinessID) == "" {
		return invalid("business_id", ErrMissingBusiness)
	}
	if strings.TrimSpace(in.SoldBy) == "" {
		return invalid("sold_by", ErrMissingSeller)
	}
	if len(in.Items) == 0 {
		return invalid("items", ErrNoItems)
	}
	for i, item := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			return invalid(field+".name", ErrMissingItemName)
		}
		if item.Quantity < 1 {
			return invalid(field+".quantity", ErrInvalidQuantity)
		}
		if item.UnitPrice.IsNegative() {
			return invalid(field+".unit_price", ErrNegativePrice)
		}
		if item.CostPrice.IsNegative() {
			return invalid(field+".cost_price", ErrNegativePrice)
		}
	}
	if !in.PaymentMethod.Valid() {
		return invalid("payment_method", ErrInvalidPaymentMethod)
	}
	if in.PaymentMethod.IsCredit() {
		if strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.CustomerPhone) == "" {
			return invalid("customer", ErrMissingDebtorInfo)
		}
		total := decimal.Zero
		for _, item := range in.Items {
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
		}
		if !total.IsPositive() {
			return invalid("items", ErrZeroCreditSale)
		}
	}
	return nil
}
