package syncer

import (
	"errors"
	"fmt"
)

// ErrDrainInProgress is returned when a drain for the business is already
// running. The second caller does nothing.
var ErrDrainInProgress = errors.New("drain already in progress")

// PartialCommitError means the sale is committed but its debt was not
// created. The sale stays committed; the missing debt is kept as a follow-up.
type PartialCommitError struct {
	LocalID string
	SaleID  string
	Err     error
	// Tracked is set once the follow-up is stored. An untracked partial
	// commit must stay queued so a replay creates the debt.
	Tracked bool
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("sale %s committed as %s but debt creation failed: %v", e.LocalID, e.SaleID, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}
