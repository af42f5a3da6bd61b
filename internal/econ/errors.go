package econ

import (
	"errors"
	"fmt"
	"time"

	"mogul/internal/store"
)

// The engine never renders user-facing text; it returns one of these and
// the caller decides how to present it. Every failure is surfaced before
// any state is touched, or after a full rollback.
var (
	// ErrValidation covers bad amounts, out-of-range percentages, and
	// ownership mismatches.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown tickers, companies, accounts, and loans.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers uniqueness collisions and already-exists states:
	// duplicate ticker, existing open loan or short position.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds is returned when a debit would overdraw a
	// balance that may not go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrState marks an operation invalid in the entity's current
	// lifecycle state, e.g. disbanding a public company.
	ErrState = errors.New("invalid state")

	// ErrStorage wraps transient persistence failures. The caller decides
	// whether to retry the whole command; the engine never retries
	// silently.
	ErrStorage = errors.New("storage failure")
)

// CooldownError reports a rate-limited operation together with how long
// the caller must wait.
type CooldownError struct {
	Op        string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s on cooldown for %s", e.Op, e.Remaining.Round(time.Second))
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

func statef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrState}, args...)...)
}

func insufficientf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInsufficientFunds}, args...)...)
}

// wrapStore translates store-level failures into the engine taxonomy.
// Domain errors produced inside the transaction pass through untouched;
// anything else is a storage failure.
func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrState):
		return err
	}
	var cd *CooldownError
	if errors.As(err, &cd) {
		return err
	}
	if errors.Is(err, store.ErrTxConflict) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicate) {
		// A store sentinel escaping untranslated is an engine bug; keep
		// the chain so it is at least diagnosable.
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
