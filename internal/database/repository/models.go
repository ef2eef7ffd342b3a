package repository

import "time"

// Account types.
const (
	AccountTypeAsset     = "ASSET"
	AccountTypeLiability = "LIABILITY"
	AccountTypeEquity    = "EQUITY"
	AccountTypeIncome    = "INCOME"
	AccountTypeExpense   = "EXPENSE"
)

// Transaction statuses.
const (
	TransactionStatusPosted     = "posted"
	TransactionStatusReconciled = "reconciled"
)

// Statement statuses. Transitions are monotonic; completed is terminal.
const (
	StatementStatusPending    = "pending"
	StatementStatusInProgress = "in_progress"
	StatementStatusMatched    = "matched"
	StatementStatusCompleted  = "completed"
)

// Account represents an account row. CurrentBalance is a materialized
// aggregate maintained inside the same commit as the entries that
// justify it; OpeningBalance is the seeded balance it started from,
// which has no justifying entries.
type Account struct {
	ID             string
	OrganizationID string
	AccountNumber  string
	Name           string
	Type           string
	Subtype        *string
	Description    *string
	OpeningBalance float64
	CurrentBalance float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transaction represents a committed transaction header. Append-only.
type Transaction struct {
	ID             string
	OrganizationID string
	Date           time.Time
	Description    string
	Reference      *string
	Status         string
	CreatedAt      time.Time
	Entries        []LedgerEntry
}

// LedgerEntry is one signed line item of a transaction, posted against
// exactly one account.
type LedgerEntry struct {
	ID            string
	TransactionID string
	AccountID     string
	Amount        float64
	Description   *string
	CreatedAt     time.Time
}

// Statement represents a bank statement under reconciliation.
type Statement struct {
	ID             string
	AccountID      string
	StartDate      time.Time
	EndDate        time.Time
	OpeningBalance float64
	ClosingBalance float64
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Transactions   []StatementTransaction
}

// StatementTransaction is one imported bank statement row. The row id
// is the stable identity; duplicate rows with identical amount and
// date remain distinguishable.
type StatementTransaction struct {
	ID          string
	StatementID string
	Date        time.Time
	Description string
	Amount      float64
	Reference   *string
	Reconciled  bool
}

// TransactionMatch pairs a statement row with a ledger transaction.
type TransactionMatch struct {
	ID                     string
	StatementTransactionID string
	TransactionID          string
	Confidence             float64
	CreatedAt              time.Time
}
