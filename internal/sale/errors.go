package sale

import (
	"errors"
	"fmt"
)

var (
	// ErrNoItems is returned when a sale has no line items.
	ErrNoItems = errors.New("sale has no items")

	// ErrInvalidQuantity is returned when an item quantity is below one.
	ErrInvalidQuantity = errors.New("item quantity must be at least 1")

	// ErrNegativePrice is returned for a negative unit or cost price.
	ErrNegativePrice = errors.New("item price must not be negative")

	// ErrMissingItemName is returned for an item without a name.
	ErrMissingItemName = errors.New("item name is required")

	// ErrInvalidPaymentMethod is returned for an unknown payment method.
	ErrInvalidPaymentMethod = errors.New("unknown payment method")

	// ErrMissingDebtorInfo is returned when a credit sale lacks the
	// customer's name or phone.
	ErrMissingDebtorInfo = errors.New("debt sales require customer name and phone")

	// ErrZeroCreditSale is returned for a debt sale that totals nothing.
	ErrZeroCreditSale = errors.New("debt sales must have a positive total")

	// ErrMissingBusiness is returned when the sale is not scoped to a business.
	ErrMissingBusiness = errors.New("business id is required")

	// ErrMissingSeller is returned when the recording user is unknown.
	ErrMissingSeller = errors.New("sold by is required")

	// ErrTotalMismatch is returned when a record's total drifted from its items.
	ErrTotalMismatch = errors.New("total amount does not match items")
)

// ValidationError reports which field of the sale input was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sale validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
