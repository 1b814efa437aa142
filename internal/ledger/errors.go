package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSale is returned by InsertSale together with the id of the
	// sale already stored under the same business and local id.
	ErrDuplicateSale = errors.New("sale already recorded")

	// ErrDuplicateDebt is returned by InsertDebt together with the id of the
	// debt already linked to the same sale.
	ErrDuplicateDebt = errors.New("debt already recorded for sale")

	ErrSaleNotFound = errors.New("sale not found")
	ErrDebtNotFound = errors.New("debt not found")

	// ErrVersionConflict means the debt changed between read and write.
	ErrVersionConflict = errors.New("debt was modified concurrently")

	// ErrOverpayment means the payment is larger than the remaining balance.
	ErrOverpayment = errors.New("payment exceeds remaining balance")

	// ErrBalanceMismatch means the proposed balance does not follow from the
	// stored balance and the payment amount.
	ErrBalanceMismatch = errors.New("new balance does not match payment")

	ErrDebtClosed   = errors.New("debt is not active")
	ErrInvalidInput = errors.New("invalid ledger input")
	ErrUnauthorized = errors.New("ledger unauthorized")
	ErrForbidden    = errors.New("ledger forbidden")
)

// RemoteError wraps any failure talking to the remote ledger. Network
// failures, timeouts and server errors all surface as RemoteError; callers
// use errors.Is on the wrapped sentinel to tell rejections apart.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// Error codes carried in JSON error bodies between the API and HTTPClient.
const (
	CodeDuplicateSale   = "duplicate_sale"
	CodeDuplicateDebt   = "duplicate_debt"
	CodeSaleNotFound    = "sale_not_found"
	CodeDebtNotFound    = "debt_not_found"
	CodeVersionConflict = "version_conflict"
	CodeOverpayment     = "overpayment"
	CodeBalanceMismatch = "balance_mismatch"
	CodeDebtClosed      = "debt_closed"
	CodeInvalid         = "invalid"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
)

var codeErrors = map[string]error{
	CodeDuplicateSale:   ErrDuplicateSale,
	CodeDuplicateDebt:   ErrDuplicateDebt,
	CodeSaleNotFound:    ErrSaleNotFound,
	CodeDebtNotFound:    ErrDebtNotFound,
	CodeVersionConflict: ErrVersionConflict,
	CodeOverpayment:     ErrOverpayment,
	CodeBalanceMismatch: ErrBalanceMismatch,
	CodeDebtClosed:      ErrDebtClosed,
	CodeInvalid:         ErrInvalidInput,
	CodeUnauthorized:    ErrUnauthorized,
	CodeForbidden:       ErrForbidden,
}

// ErrorForCode maps a wire error code back to its sentinel.
func ErrorForCode(code string) (error, bool) {
	err, ok := codeErrors[code]
	return err, ok
}

// CodeFor maps a sentinel to its wire code, or "" if err is not a ledger
// rejection.
func CodeFor(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}
