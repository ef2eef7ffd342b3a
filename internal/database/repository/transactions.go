package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/finbooks/finbooks/internal/database"
)

// TransactionFilters defines list filters. All filters are pushed into
// the query before pagination so pages never under-fill.
type TransactionFilters struct {
	StartDate *time.Time
	EndDate   *time.Time
	AccountID string
	Status    string
}

// TransactionRepo handles transactions and their ledger entries.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, organization_id, date, description, reference, status, created_at`

// Insert writes the transaction header inside tx.
func (r *TransactionRepo) Insert(ctx context.Context, tx *sql.Tx, t Transaction) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO transactions(id, organization_id, date, description, reference, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?);
	`, t.ID, t.OrganizationID, t.Date, t.Description, t.Reference, t.Status, database.Now())
	return err
}

// InsertEntry writes one ledger entry inside tx.
func (r *TransactionRepo) InsertEntry(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO ledger_entries(id, transaction_id, account_id, amount, description, created_at)
	VALUES(?, ?, ?, ?, ?, ?);
	`, e.ID, e.TransactionID, e.AccountID, e.Amount, e.Description, database.Now())
	return err
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, status, id)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if t.Entries, err = r.fetchEntries(ctx, t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}

func buildWhere(orgID string, f TransactionFilters) (string, []interface{}) {
	where := []string{"organization_id = ?"}
	args := []interface{}{orgID}
	if f.StartDate != nil {
		where = append(where, "date >= ?")
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		where = append(where, "date <= ?")
		args = append(args, *f.EndDate)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AccountID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM ledger_entries e WHERE e.transaction_id = transactions.id AND e.account_id = ?)")
		args = append(args, f.AccountID)
	}
	return strings.Join(where, " AND "), args
}

// List returns one page of transactions plus the total row count for
// the same filters.
func (r *TransactionRepo) List(ctx context.Context, orgID string, f TransactionFilters, page, limit int) ([]Transaction, int, error) {
	where, args := buildWhere(orgID, f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where +
		` ORDER BY date DESC, created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Entries, err = r.fetchEntries(ctx, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ListAll returns every matching transaction, date descending. Used by
// export, which has no pagination.
func (r *TransactionRepo) ListAll(ctx context.Context, orgID string, f TransactionFilters) ([]Transaction, error) {
	where, args := buildWhere(orgID, f)
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+where+` ORDER BY date DESC, created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Entries, err = r.fetchEntries(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListUnreconciled returns unreconciled transactions touching accountID
// within [start, end]. Candidates for statement matching.
func (r *TransactionRepo) ListUnreconciled(ctx context.Context, accountID string, start, end time.Time) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+transactionColumns+` FROM transactions
	WHERE status != ?
	  AND date >= ? AND date <= ?
	  AND EXISTS (SELECT 1 FROM ledger_entries e WHERE e.transaction_id = transactions.id AND e.account_id = ?)
	ORDER BY date ASC
	`, TransactionStatusReconciled, start, end, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Entries, err = r.fetchEntries(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *TransactionRepo) fetchEntries(ctx context.Context, transactionID string) ([]LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, transaction_id, account_id, amount, description, created_at
	FROM ledger_entries WHERE transaction_id = ? ORDER BY created_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &desc, &e.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			e.Description = &desc.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var reference sql.NullString
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.Date, &t.Description, &reference, &t.Status, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	if reference.Valid {
		t.Reference = &reference.String
	}
	return t, nil
}
