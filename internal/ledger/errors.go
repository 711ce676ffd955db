package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive transfer/wager amounts before
	// any lock is taken.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrRateLimited reports that a user exceeded the credit-grant window.
	ErrRateLimited = errors.New("too many credit grants, slow down")
)

// InsufficientFundsError is a recoverable business outcome, not a fault.
// Current carries the balance read under lock so callers can report the
// exact shortfall.
type InsufficientFundsError struct {
	Current int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: current balance %d", e.Current)
}

// IsInsufficientFunds reports whether err is an insufficient-funds outcome
// and returns the locked balance it carries.
func IsInsufficientFunds(err error) (int64, bool) {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		return ife.Current, true
	}
	return 0, false
}
