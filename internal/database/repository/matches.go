package repository

import (
	"context"
	"database/sql"

	"github.com/finbooks/finbooks/internal/database"
)

// MatchRepo handles confirmed statement/ledger pairings. One match per
// statement row, enforced by a unique constraint.
type MatchRepo struct{ db *sql.DB }

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

func (r *MatchRepo) Insert(ctx context.Context, tx *sql.Tx, m TransactionMatch) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO transaction_matches(id, statement_transaction_id, transaction_id, confidence, created_at)
	VALUES(?, ?, ?, ?, ?);
	`, m.ID, m.StatementTransactionID, m.TransactionID, m.Confidence, database.Now())
	return err
}

// GetByStatementTransaction returns the confirmed match for a statement
// row, or nil.
func (r *MatchRepo) GetByStatementTransaction(ctx context.Context, statementTransactionID string) (*TransactionMatch, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, statement_transaction_id, transaction_id, confidence, created_at
	FROM transaction_matches WHERE statement_transaction_id = ?
	`, statementTransactionID)
	var m TransactionMatch
	if err := row.Scan(&m.ID, &m.StatementTransactionID, &m.TransactionID, &m.Confidence, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepo) DeleteByStatementTransaction(ctx context.Context, tx *sql.Tx, statementTransactionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM transaction_matches WHERE statement_transaction_id = ?`, statementTransactionID)
	return err
}
