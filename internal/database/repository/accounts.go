package repository

import (
	"context"
	"database/sql"

	"github.com/finbooks/finbooks/internal/database"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, organization_id, account_number, name, type, subtype, description, opening_balance, current_balance, created_at, updated_at`

func (r *AccountRepo) Insert(ctx context.Context, a Account) error {
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, organization_id, account_number, name, type, subtype, description, opening_balance, current_balance, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, a.ID, a.OrganizationID, a.AccountNumber, a.Name, a.Type, a.Subtype, a.Description, a.OpeningBalance, a.CurrentBalance, now, now)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccountRow(row)
}

// GetForOrg resolves an account id only if it belongs to the organization.
func (r *AccountRepo) GetForOrg(ctx context.Context, orgID, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND organization_id = ?`, id, orgID)
	return scanAccountRow(row)
}

func (r *AccountRepo) GetByNumber(ctx context.Context, orgID, accountNumber string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE organization_id = ? AND account_number = ?`, orgID, accountNumber)
	return scanAccountRow(row)
}

// List returns all accounts for an organization ordered by account number.
func (r *AccountRepo) List(ctx context.Context, orgID string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE organization_id = ? ORDER BY account_number`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IncrementBalance adds delta to the materialized balance inside tx.
// The increment happens in SQL, not read-modify-write, so concurrent
// commits against the same account serialize at the store.
func (r *AccountRepo) IncrementBalance(ctx context.Context, tx *sql.Tx, id string, delta float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE accounts SET current_balance = current_balance + ?, updated_at = ? WHERE id = ?`, delta, database.Now(), id)
	return err
}

// BalanceDrift holds the audit result for one account whose stored
// balance disagrees with the sum of its entry history.
type BalanceDrift struct {
	AccountID string
	Stored    float64
	Computed  float64
}

// AuditBalances recomputes each account balance from the seeded
// opening balance plus the full entry history and reports accounts
// drifting beyond eps. Read-only: the write path for balances is the
// transaction commit itself.
func (r *AccountRepo) AuditBalances(ctx context.Context, orgID string, eps float64) ([]BalanceDrift, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT a.id, a.current_balance, a.opening_balance + COALESCE(SUM(e.amount), 0)
	FROM accounts a
	LEFT JOIN ledger_entries e ON e.account_id = a.id
	WHERE a.organization_id = ?
	GROUP BY a.id
	HAVING ABS(a.current_balance - a.opening_balance - COALESCE(SUM(e.amount), 0)) > ?
	`, orgID, eps)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.Stored, &d.Computed); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanAccountRow(row *sql.Row) (*Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var subtype, description sql.NullString
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.AccountNumber, &a.Name, &a.Type,
		&subtype, &description, &a.OpeningBalance, &a.CurrentBalance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	if subtype.Valid {
		a.Subtype = &subtype.String
	}
	if description.Valid {
		a.Description = &description.String
	}
	return a, nil
}
