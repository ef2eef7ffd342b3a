package ledger

import (
	"errors"
	"fmt"
)

// Epsilon is the tolerance applied when comparing entry sums to zero
// and close-out balances to statements.
const Epsilon = 0.001

var (
	// ErrUnbalanced is returned when a transaction's entries do not sum
	// to zero within Epsilon.
	ErrUnbalanced = errors.New("ledger entries do not balance")
	// ErrTooFewEntries is returned for transactions with fewer than two
	// entries.
	ErrTooFewEntries = errors.New("transaction requires at least two entries")
	// ErrUnknownAccount is returned when an entry references an account
	// that does not exist in the organization.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate account numbers and other
	// uniqueness violations.
	ErrConflict = errors.New("conflict")
	// ErrStatementCompleted is returned when a mutation targets a
	// statement that has already been completed.
	ErrStatementCompleted = errors.New("statement is completed")
)

// BalanceMismatchError reports a reconciliation close-out failure.
type BalanceMismatchError struct {
	Expected float64
	Actual   float64
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("balance mismatch: expected closing balance %.2f, reconciled to %.2f", e.Expected, e.Actual)
}

// PersistenceError wraps a store failure. The surrounding atomic unit
// has been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
