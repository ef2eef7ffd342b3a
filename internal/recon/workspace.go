package recon

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database"
	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
)

// ErrUnreconciledTransactions is returned when completion is requested
// while statement rows remain unreconciled.
var ErrUnreconciledTransactions = errors.New("statement has unreconciled transactions")

// Workspace manages bank statements and drives matching between
// statement rows and committed ledger transactions. All state
// transitions on a single statement serialize through a per-statement
// lock.
type Workspace struct {
	db           *sql.DB
	statements   *repository.StatementRepo
	matches      *repository.MatchRepo
	transactions *repository.TransactionRepo
	accounts     *repository.AccountRepo
	matcher      Matcher
	log          *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWorkspace(db *sql.DB, statements *repository.StatementRepo, matches *repository.MatchRepo,
	transactions *repository.TransactionRepo, accounts *repository.AccountRepo, matcher Matcher, log *zap.Logger) *Workspace {
	return &Workspace{
		db:           db,
		statements:   statements,
		matches:      matches,
		transactions: transactions,
		accounts:     accounts,
		matcher:      matcher,
		log:          log,
		locks:        map[string]*sync.Mutex{},
	}
}

func (w *Workspace) lockStatement(id string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[id]
	if !ok {
		l = &sync.Mutex{}
		w.locks[id] = l
	}
	return l
}

// CreateStatement opens a new statement in pending.
func (w *Workspace) CreateStatement(ctx context.Context, accountID string, start, end time.Time, opening, closing float64) (*repository.Statement, error) {
	acct, err := w.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "resolve account", Err: err}
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: account %s", ledger.ErrNotFound, accountID)
	}
	s := repository.Statement{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		StartDate:      start.UTC(),
		EndDate:        end.UTC(),
		OpeningBalance: opening,
		ClosingBalance: closing,
		Status:         repository.StatementStatusPending,
	}
	if err := w.statements.Insert(ctx, s); err != nil {
		return nil, &ledger.PersistenceError{Op: "create statement", Err: err}
	}
	w.log.Info("statement created", zap.String("statement_id", s.ID), zap.String("account_id", accountID))
	return &s, nil
}

// GetStatement returns one statement with its rows.
func (w *Workspace) GetStatement(ctx context.Context, id string) (*repository.Statement, error) {
	s, err := w.statements.Get(ctx, id)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "get statement", Err: err}
	}
	if s == nil {
		return nil, fmt.Errorf("%w: statement %s", ledger.ErrNotFound, id)
	}
	return s, nil
}

// ListStatements returns one page of statements.
func (w *Workspace) ListStatements(ctx context.Context, accountID string, page, limit int) ([]repository.Statement, ledger.Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	stmts, total, err := w.statements.List(ctx, accountID, page, limit)
	if err != nil {
		return nil, ledger.Page{}, &ledger.PersistenceError{Op: "list statements", Err: err}
	}
	p := ledger.Page{Page: page, Limit: limit, Total: total, TotalPages: (total + limit - 1) / limit}
	return stmts, p, nil
}

// ImportResult reports statement row import outcomes.
type ImportResult struct {
	Imported int
	Errors   []string
}

// ImportTransactions parses a bank CSV (header
// date,description,amount[,reference]) into statement rows tagged
// unreconciled. Every row gets a fresh id, so duplicate rows with the
// same amount and date stay distinguishable. The first successful
// import moves a pending statement to in_progress; importing into a
// matched statement reopens it as in_progress.
func (w *Workspace) ImportTransactions(ctx context.Context, statementID string, r io.Reader) (ImportResult, error) {
	lock := w.lockStatement(statementID)
	lock.Lock()
	defer lock.Unlock()

	res := ImportResult{}
	s, err := w.GetStatement(ctx, statementID)
	if err != nil {
		return res, err
	}
	if s.Status == repository.StatementStatusCompleted {
		return res, fmt.Errorf("%w: statement %s", ledger.ErrStatementCompleted, statementID)
	}

	rows, parseErrs, err := parseStatementCSV(r, statementID)
	if err != nil {
		return res, err
	}
	res.Errors = parseErrs
	if len(rows) == 0 {
		return res, nil
	}

	err = database.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		for _, st := range rows {
			if err := w.statements.InsertTransaction(ctx, tx, st); err != nil {
				return err
			}
		}
		// pending moves forward on the first import; matched drops back,
		// since the new rows are unreconciled
		if s.Status != repository.StatementStatusInProgress {
			return w.statements.UpdateStatus(ctx, tx, statementID, repository.StatementStatusInProgress)
		}
		return nil
	})
	if err != nil {
		return res, &ledger.PersistenceError{Op: "import statement transactions", Err: err}
	}
	res.Imported = len(rows)
	w.log.Info("statement transactions imported",
		zap.String("statement_id", statementID),
		zap.Int("imported", res.Imported),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// MatchCandidates delegates to the matcher over the statement's
// unreconciled rows and the account's unreconciled ledger transactions
// in the statement period. Candidates only; nothing is reconciled.
func (w *Workspace) MatchCandidates(ctx context.Context, statementID string) ([]Candidate, error) {
	s, err := w.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if s.Status == repository.StatementStatusCompleted {
		return nil, fmt.Errorf("%w: statement %s", ledger.ErrStatementCompleted, statementID)
	}
	ledgerTxns, err := w.transactions.ListUnreconciled(ctx, s.AccountID, s.StartDate, s.EndDate)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "list unreconciled transactions", Err: err}
	}
	return w.matcher.Match(s.AccountID, s.Transactions, ledgerTxns), nil
}

// Reconcile confirms a pairing: the statement row and the ledger
// transaction are both flagged reconciled in one commit. Confirming the
// same pair twice is a no-op.
func (w *Workspace) Reconcile(ctx context.Context, statementTransactionID, transactionID string) error {
	st, err := w.statements.GetTransaction(ctx, statementTransactionID)
	if err != nil {
		return &ledger.PersistenceError{Op: "get statement transaction", Err: err}
	}
	if st == nil {
		return fmt.Errorf("%w: statement transaction %s", ledger.ErrNotFound, statementTransactionID)
	}

	lock := w.lockStatement(st.StatementID)
	lock.Lock()
	defer lock.Unlock()

	s, err := w.GetStatement(ctx, st.StatementID)
	if err != nil {
		return err
	}
	if s.Status == repository.StatementStatusCompleted {
		return fmt.Errorf("%w: statement %s", ledger.ErrStatementCompleted, s.ID)
	}

	existing, err := w.matches.GetByStatementTransaction(ctx, statementTransactionID)
	if err != nil {
		return &ledger.PersistenceError{Op: "get match", Err: err}
	}
	if existing != nil {
		if existing.TransactionID == transactionID {
			return nil // idempotent confirm
		}
		return fmt.Errorf("%w: statement transaction %s already matched to %s",
			ledger.ErrConflict, statementTransactionID, existing.TransactionID)
	}

	t, err := w.transactions.Get(ctx, transactionID)
	if err != nil {
		return &ledger.PersistenceError{Op: "get transaction", Err: err}
	}
	if t == nil {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, transactionID)
	}
	if t.Status == repository.TransactionStatusReconciled {
		// already paired with some statement row; certifying it twice
		// would leave a bank row with no real counterpart
		return fmt.Errorf("%w: transaction %s is already reconciled", ledger.ErrConflict, transactionID)
	}

	confidence := 1.0
	if cands := w.matcher.Match(s.AccountID, []repository.StatementTransaction{*st}, []repository.Transaction{*t}); len(cands) > 0 {
		confidence = cands[0].Confidence
	}

	allReconciled, balanced := w.closeOutAfter(s, st.ID, st.Amount)

	err = database.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		m := repository.TransactionMatch{
			ID:                     uuid.NewString(),
			StatementTransactionID: statementTransactionID,
			TransactionID:          transactionID,
			Confidence:             confidence,
		}
		if err := w.matches.Insert(ctx, tx, m); err != nil {
			return err
		}
		if err := w.statements.SetReconciled(ctx, tx, statementTransactionID, true); err != nil {
			return err
		}
		if err := w.transactions.UpdateStatus(ctx, tx, transactionID, repository.TransactionStatusReconciled); err != nil {
			return err
		}
		if s.Status == repository.StatementStatusInProgress && allReconciled && balanced {
			return w.statements.UpdateStatus(ctx, tx, s.ID, repository.StatementStatusMatched)
		}
		return nil
	})
	if err != nil {
		return &ledger.PersistenceError{Op: "reconcile", Err: err}
	}
	return nil
}

// closeOutAfter reports whether, once row extraReconciledID is flagged,
// every row is reconciled and the close-out balance holds.
func (w *Workspace) closeOutAfter(s *repository.Statement, extraReconciledID string, extraAmount float64) (allReconciled, balanced bool) {
	allReconciled = true
	sum := extraAmount
	for _, row := range s.Transactions {
		if row.ID == extraReconciledID {
			continue
		}
		if !row.Reconciled {
			allReconciled = false
			continue
		}
		sum += row.Amount
	}
	balanced = math.Abs(s.OpeningBalance+sum-s.ClosingBalance) <= ledger.Epsilon
	return allReconciled, balanced
}

// Unmatch reverses a confirmed pairing. Permitted any time before the
// statement completes; a row with no match is left as is.
func (w *Workspace) Unmatch(ctx context.Context, statementTransactionID string) error {
	st, err := w.statements.GetTransaction(ctx, statementTransactionID)
	if err != nil {
		return &ledger.PersistenceError{Op: "get statement transaction", Err: err}
	}
	if st == nil {
		return fmt.Errorf("%w: statement transaction %s", ledger.ErrNotFound, statementTransactionID)
	}

	lock := w.lockStatement(st.StatementID)
	lock.Lock()
	defer lock.Unlock()

	s, err := w.GetStatement(ctx, st.StatementID)
	if err != nil {
		return err
	}
	if s.Status == repository.StatementStatusCompleted {
		return fmt.Errorf("%w: statement %s", ledger.ErrStatementCompleted, s.ID)
	}

	m, err := w.matches.GetByStatementTransaction(ctx, statementTransactionID)
	if err != nil {
		return &ledger.PersistenceError{Op: "get match", Err: err}
	}
	if m == nil {
		return nil
	}

	err = database.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		if err := w.matches.DeleteByStatementTransaction(ctx, tx, statementTransactionID); err != nil {
			return err
		}
		if err := w.statements.SetReconciled(ctx, tx, statementTransactionID, false); err != nil {
			return err
		}
		if err := w.transactions.UpdateStatus(ctx, tx, m.TransactionID, repository.TransactionStatusPosted); err != nil {
			return err
		}
		if s.Status == repository.StatementStatusMatched {
			return w.statements.UpdateStatus(ctx, tx, s.ID, repository.StatementStatusInProgress)
		}
		return nil
	})
	if err != nil {
		return &ledger.PersistenceError{Op: "unmatch", Err: err}
	}
	return nil
}

// Complete certifies the statement: every row reconciled and
// opening + reconciled sum within epsilon of closing. On success the
// statement becomes completed and immutable.
func (w *Workspace) Complete(ctx context.Context, statementID string) error {
	lock := w.lockStatement(statementID)
	lock.Lock()
	defer lock.Unlock()

	s, err := w.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if s.Status == repository.StatementStatusCompleted {
		return fmt.Errorf("%w: statement %s already completed", ledger.ErrConflict, statementID)
	}

	var sum float64
	unreconciled := 0
	for _, row := range s.Transactions {
		if !row.Reconciled {
			unreconciled++
			continue
		}
		sum += row.Amount
	}
	if unreconciled > 0 {
		return fmt.Errorf("%w: %d remaining", ErrUnreconciledTransactions, unreconciled)
	}
	if math.Abs(s.OpeningBalance+sum-s.ClosingBalance) > ledger.Epsilon {
		return &ledger.BalanceMismatchError{Expected: s.ClosingBalance, Actual: s.OpeningBalance + sum}
	}

	err = database.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		return w.statements.UpdateStatus(ctx, tx, statementID, repository.StatementStatusCompleted)
	})
	if err != nil {
		return &ledger.PersistenceError{Op: "complete statement", Err: err}
	}
	w.log.Info("statement completed", zap.String("statement_id", statementID))
	return nil
}

func parseStatementCSV(r io.Reader, statementID string) ([]repository.StatementTransaction, []string, error) {
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	headerRec, err := csvr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("missing header row: %w", err)
	}
	header := make(map[string]int, len(headerRec))
	for i, name := range headerRec {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var rows []repository.StatementTransaction
	var errs []string
	line := 1
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		get := func(name string) string {
			if i, ok := header[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		date, err := time.Parse("2006-01-02", get("date"))
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d date: %v", line, err))
			continue
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(get("amount"), ",", ""), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d amount: %v", line, err))
			continue
		}
		var reference *string
		if ref := get("reference"); ref != "" {
			reference = &ref
		}
		rows = append(rows, repository.StatementTransaction{
			ID:          uuid.NewString(),
			StatementID: statementID,
			Date:        date.UTC(),
			Description: get("description"),
			Amount:      amount,
			Reference:   reference,
			Reconciled:  false,
		})
	}
	return rows, errs, nil
}
