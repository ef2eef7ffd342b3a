package repository

import (
	"context"
	"database/sql"

	"github.com/finbooks/finbooks/internal/database"
)

// StatementRepo handles reconciliation statements and their rows.
type StatementRepo struct{ db *sql.DB }

func NewStatementRepo(db *sql.DB) *StatementRepo { return &StatementRepo{db: db} }

const statementColumns = `id, account_id, start_date, end_date, opening_balance, closing_balance, status, created_at, updated_at`

func (r *StatementRepo) Insert(ctx context.Context, s Statement) error {
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO statements(id, account_id, start_date, end_date, opening_balance, closing_balance, status, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, s.ID, s.AccountID, s.StartDate, s.EndDate, s.OpeningBalance, s.ClosingBalance, s.Status, now, now)
	return err
}

func (r *StatementRepo) Get(ctx context.Context, id string) (*Statement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = ?`, id)
	var s Statement
	if err := row.Scan(&s.ID, &s.AccountID, &s.StartDate, &s.EndDate, &s.OpeningBalance, &s.ClosingBalance, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	txns, err := r.fetchStatementTransactions(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Transactions = txns
	return &s, nil
}

// List returns one page of statements, newest first, plus the total.
func (r *StatementRepo) List(ctx context.Context, accountID string, page, limit int) ([]Statement, int, error) {
	where := "1=1"
	var args []interface{}
	if accountID != "" {
		where = "account_id = ?"
		args = append(args, accountID)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Statement
	for rows.Next() {
		var s Statement
		if err := rows.Scan(&s.ID, &s.AccountID, &s.StartDate, &s.EndDate, &s.OpeningBalance, &s.ClosingBalance, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *StatementRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE statements SET status = ?, updated_at = ? WHERE id = ?`, status, database.Now(), id)
	return err
}

// InsertTransaction writes one statement row inside tx.
func (r *StatementRepo) InsertTransaction(ctx context.Context, tx *sql.Tx, st StatementTransaction) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO statement_transactions(id, statement_id, date, description, amount, reference, reconciled)
	VALUES(?, ?, ?, ?, ?, ?, ?);
	`, st.ID, st.StatementID, st.Date, st.Description, st.Amount, st.Reference, st.Reconciled)
	return err
}

func (r *StatementRepo) GetTransaction(ctx context.Context, id string) (*StatementTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, statement_id, date, description, amount, reference, reconciled FROM statement_transactions WHERE id = ?`, id)
	st, err := scanStatementTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func (r *StatementRepo) SetReconciled(ctx context.Context, tx *sql.Tx, id string, reconciled bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE statement_transactions SET reconciled = ? WHERE id = ?`, reconciled, id)
	return err
}

func (r *StatementRepo) fetchStatementTransactions(ctx context.Context, statementID string) ([]StatementTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, statement_id, date, description, amount, reference, reconciled FROM statement_transactions WHERE statement_id = ? ORDER BY date ASC, id ASC`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatementTransaction
	for rows.Next() {
		st, err := scanStatementTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStatementTransaction(row scanner) (StatementTransaction, error) {
	var st StatementTransaction
	var reference sql.NullString
	if err := row.Scan(&st.ID, &st.StatementID, &st.Date, &st.Description, &st.Amount, &reference, &st.Reconciled); err != nil {
		return StatementTransaction{}, err
	}
	if reference.Valid {
		st.Reference = &reference.String
	}
	return st, nil
}
