package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database"
	"github.com/finbooks/finbooks/internal/database/repository"
)

// Engine validates and atomically commits balanced multi-entry
// transactions. Committed transactions are immutable.
type Engine struct {
	db           *sql.DB
	accounts     *repository.AccountRepo
	transactions *repository.TransactionRepo
	log          *zap.Logger
}

func NewEngine(db *sql.DB, accounts *repository.AccountRepo, transactions *repository.TransactionRepo, log *zap.Logger) *Engine {
	return &Engine{db: db, accounts: accounts, transactions: transactions, log: log}
}

// EntryInput is one requested ledger line.
type EntryInput struct {
	AccountID   string
	Amount      float64
	Description *string
}

// CreateInput describes a transaction to commit.
type CreateInput struct {
	OrganizationID string
	Date           time.Time
	Description    string
	Reference      *string
	Entries        []EntryInput
}

// Page describes one page of a listing.
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Create commits one balanced transaction: the header, one ledger entry
// per input, and the balance increment on every touched account all
// land in a single store transaction.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*repository.Transaction, error) {
	if len(in.Entries) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewEntries, len(in.Entries))
	}

	var sum float64
	for _, entry := range in.Entries {
		sum += entry.Amount
	}
	if math.Abs(sum) > Epsilon {
		return nil, fmt.Errorf("%w: entries sum to %.4f", ErrUnbalanced, sum)
	}

	for _, entry := range in.Entries {
		acct, err := e.accounts.GetForOrg(ctx, in.OrganizationID, entry.AccountID)
		if err != nil {
			return nil, &PersistenceError{Op: "resolve account", Err: err}
		}
		if acct == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, entry.AccountID)
		}
	}

	t := repository.Transaction{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Date:           in.Date.UTC(),
		Description:    in.Description,
		Reference:      in.Reference,
		Status:         repository.TransactionStatusPosted,
	}

	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if err := e.transactions.Insert(ctx, tx, t); err != nil {
			return err
		}
		for _, entry := range in.Entries {
			le := repository.LedgerEntry{
				ID:            uuid.NewString(),
				TransactionID: t.ID,
				AccountID:     entry.AccountID,
				Amount:        entry.Amount,
				Description:   entry.Description,
			}
			if err := e.transactions.InsertEntry(ctx, tx, le); err != nil {
				return err
			}
			if err := e.accounts.IncrementBalance(ctx, tx, entry.AccountID, entry.Amount); err != nil {
				return err
			}
			t.Entries = append(t.Entries, le)
		}
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "commit transaction", Err: err}
	}

	e.log.Info("transaction committed",
		zap.String("transaction_id", t.ID),
		zap.String("organization_id", in.OrganizationID),
		zap.Int("entries", len(t.Entries)))
	return &t, nil
}

// Get returns one transaction with its entries.
func (e *Engine) Get(ctx context.Context, id string) (*repository.Transaction, error) {
	t, err := e.transactions.Get(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "get transaction", Err: err}
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns one page of transactions. Filters, including the account
// filter, run inside the query ahead of pagination.
func (e *Engine) List(ctx context.Context, orgID string, f repository.TransactionFilters, page, limit int) ([]repository.Transaction, Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	txns, total, err := e.transactions.List(ctx, orgID, f, page, limit)
	if err != nil {
		return nil, Page{}, &PersistenceError{Op: "list transactions", Err: err}
	}
	p := Page{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	return txns, p, nil
}

// AuditBalances recomputes account balances from the seeded opening
// balance plus entry history and reports drift beyond Epsilon. An
// audit check, never a write path.
func (e *Engine) AuditBalances(ctx context.Context, orgID string) ([]repository.BalanceDrift, error) {
	drift, err := e.accounts.AuditBalances(ctx, orgID, Epsilon)
	if err != nil {
		return nil, &PersistenceError{Op: "audit balances", Err: err}
	}
	if len(drift) > 0 {
		e.log.Warn("balance drift detected", zap.Int("accounts", len(drift)))
	}
	return drift, nil
}
