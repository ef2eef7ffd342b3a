package recon

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database"
	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
)

type fixture struct {
	db        *sql.DB
	engine    *ledger.Engine
	workspace *Workspace
	cash      repository.Account
	sales     repository.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	ctx := context.Background()
	accounts := repository.NewAccountRepo(db)
	transactions := repository.NewTransactionRepo(db)
	statements := repository.NewStatementRepo(db)
	matches := repository.NewMatchRepo(db)

	cash := repository.Account{ID: "acct-cash", OrganizationID: "org1", AccountNumber: "1000", Name: "Cash", Type: repository.AccountTypeAsset}
	sales := repository.Account{ID: "acct-sales", OrganizationID: "org1", AccountNumber: "4000", Name: "Sales", Type: repository.AccountTypeIncome}
	require.NoError(t, accounts.Insert(ctx, cash))
	require.NoError(t, accounts.Insert(ctx, sales))

	engine := ledger.NewEngine(db, accounts, transactions, zap.NewNop())
	workspace := NewWorkspace(db, statements, matches, transactions, accounts, &HeuristicMatcher{}, zap.NewNop())
	return &fixture{db: db, engine: engine, workspace: workspace, cash: cash, sales: sales}
}

// postCash commits a ledger transaction moving amount through the cash
// account on the given day of March 2026.
func (f *fixture) postCash(t *testing.T, day int, amount float64, desc string) *repository.Transaction {
	t.Helper()
	tx, err := f.engine.Create(context.Background(), ledger.CreateInput{
		OrganizationID: "org1",
		Date:           time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Description:    desc,
		Entries: []ledger.EntryInput{
			{AccountID: f.cash.ID, Amount: amount},
			{AccountID: f.sales.ID, Amount: -amount},
		},
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) newStatement(t *testing.T, opening, closing float64) *repository.Statement {
	t.Helper()
	s, err := f.workspace.CreateStatement(context.Background(), f.cash.ID,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		opening, closing)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusPending, s.Status)
	return s
}

func (f *fixture) importRows(t *testing.T, statementID string, rows ...string) *repository.Statement {
	t.Helper()
	csv := "date,description,amount\n" + strings.Join(rows, "\n")
	res, err := f.workspace.ImportTransactions(context.Background(), statementID, strings.NewReader(csv))
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, len(rows), res.Imported)
	s, err := f.workspace.GetStatement(context.Background(), statementID)
	require.NoError(t, err)
	return s
}

func TestImportMovesPendingToInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.newStatement(t, 0, 100)

	s = f.importRows(t, s.ID, "2026-03-02,card settlement,100.00")
	require.Equal(t, repository.StatementStatusInProgress, s.Status)
	require.Len(t, s.Transactions, 1)
	require.False(t, s.Transactions[0].Reconciled)

	// further imports keep the status
	s = f.importRows(t, s.ID, "2026-03-03,another,50.00")
	require.Equal(t, repository.StatementStatusInProgress, s.Status)
	require.Len(t, s.Transactions, 2)
}

func TestImportAccumulatesRowErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.newStatement(t, 0, 100)

	csv := "date,description,amount\nbad-date,x,10\n2026-03-02,ok,100.00\n2026-03-03,bad amount,abc\n"
	res, err := f.workspace.ImportTransactions(context.Background(), s.ID, strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 2)
}

func TestMatchCandidatesPrefersExactAmountAndDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	exact := f.postCash(t, 2, 100.00, "card settlement")
	f.postCash(t, 9, 100.00, "late settlement")

	s := f.newStatement(t, 0, 100)
	s = f.importRows(t, s.ID, "2026-03-02,card settlement,100.00")

	cands, err := f.workspace.MatchCandidates(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, exact.ID, cands[0].TransactionID)
	require.InDelta(t, 1.0, cands[0].Confidence, 0.0001)

	// candidates only: nothing got reconciled
	s, err = f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, s.Transactions[0].Reconciled)
	require.Equal(t, repository.StatementStatusInProgress, s.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx := f.postCash(t, 2, 100.00, "settlement")
	other := f.postCash(t, 3, 40.00, "other")
	s := f.newStatement(t, 0, 140)
	s = f.importRows(t, s.ID, "2026-03-02,settlement,100.00", "2026-03-03,other,40.00")

	stRow := s.Transactions[0]
	require.NoError(t, f.workspace.Reconcile(ctx, stRow.ID, tx.ID))
	require.NoError(t, f.workspace.Reconcile(ctx, stRow.ID, tx.ID)) // no-op

	// confirming a different pairing for the same row conflicts
	err := f.workspace.Reconcile(ctx, stRow.ID, other.ID)
	require.ErrorIs(t, err, ledger.ErrConflict)

	s, err = f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, s.Transactions[0].Reconciled)
	require.False(t, s.Transactions[1].Reconciled)

	got, err := f.engine.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, repository.TransactionStatusReconciled, got.Status)
}

func TestReconcileRejectsAlreadyReconciledTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// two identical bank rows, only one real ledger event
	tx := f.postCash(t, 2, 25.00, "coffee beans")
	s := f.newStatement(t, 0, 50)
	s = f.importRows(t, s.ID, "2026-03-02,coffee beans,25.00", "2026-03-02,coffee beans,25.00")

	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, tx.ID))

	// certifying the same ledger transaction against a second row would
	// leave that row with no real counterpart
	err := f.workspace.Reconcile(ctx, s.Transactions[1].ID, tx.ID)
	require.ErrorIs(t, err, ledger.ErrConflict)

	got, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, got.Transactions[0].Reconciled)
	require.False(t, got.Transactions[1].Reconciled)
}

func TestImportIntoMatchedStatementReopens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	one := f.postCash(t, 2, 100.00, "one")
	s := f.newStatement(t, 0, 100)
	s = f.importRows(t, s.ID, "2026-03-02,one,100.00")
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, one.ID))

	matched, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusMatched, matched.Status)

	// a late import adds unreconciled rows, so matched no longer holds
	reopened := f.importRows(t, s.ID, "2026-03-03,late,40.00")
	require.Equal(t, repository.StatementStatusInProgress, reopened.Status)

	err = f.workspace.Complete(ctx, s.ID)
	require.ErrorIs(t, err, ErrUnreconciledTransactions)
}

func TestReconcileAutoAdvancesToMatched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.postCash(t, 2, 100.00, "a")
	b := f.postCash(t, 3, 150.00, "b")
	s := f.newStatement(t, 1000, 1250)
	s = f.importRows(t, s.ID, "2026-03-02,a,100.00", "2026-03-03,b,150.00")

	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, a.ID))
	mid, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusInProgress, mid.Status)

	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[1].ID, b.ID))
	done, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusMatched, done.Status)
}

func TestCompleteCloseOut(t *testing.T) {
	t.Parallel()

	// opening 1000, reconciled rows summing 250: only a closing balance of
	// 1250 passes the close-out check
	cases := []struct {
		closing float64
		ok      bool
	}{
		{1250, true},
		{1300, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("closing=%v", tc.closing), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			one := f.postCash(t, 2, 100.00, "one")
			two := f.postCash(t, 3, 150.00, "two")
			s := f.newStatement(t, 1000, tc.closing)
			s = f.importRows(t, s.ID, "2026-03-02,one,100.00", "2026-03-03,two,150.00")
			require.NoError(t, f.workspace.Reconcile(context.Background(), s.Transactions[0].ID, one.ID))
			require.NoError(t, f.workspace.Reconcile(context.Background(), s.Transactions[1].ID, two.ID))

			err := f.workspace.Complete(context.Background(), s.ID)
			if tc.ok {
				require.NoError(t, err)
				got, err := f.workspace.GetStatement(context.Background(), s.ID)
				require.NoError(t, err)
				require.Equal(t, repository.StatementStatusCompleted, got.Status)
			} else {
				var mismatch *ledger.BalanceMismatchError
				require.ErrorAs(t, err, &mismatch)
				require.InDelta(t, tc.closing, mismatch.Expected, ledger.Epsilon)
				require.InDelta(t, 1250, mismatch.Actual, ledger.Epsilon)
			}
		})
	}
}

func TestCompleteRequiresEveryRowReconciled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx := f.postCash(t, 2, 100.00, "one")
	s := f.newStatement(t, 0, 140)
	s = f.importRows(t, s.ID, "2026-03-02,one,100.00", "2026-03-03,two,40.00")
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, tx.ID))

	err := f.workspace.Complete(ctx, s.ID)
	require.ErrorIs(t, err, ErrUnreconciledTransactions)
}

func TestCompletedStatementIsImmutable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	one := f.postCash(t, 2, 100.00, "one")
	two := f.postCash(t, 3, 150.00, "two")
	spare := f.postCash(t, 4, 10.00, "spare")
	s := f.newStatement(t, 1000, 1250)
	s = f.importRows(t, s.ID, "2026-03-02,one,100.00", "2026-03-03,two,150.00")
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, one.ID))
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[1].ID, two.ID))
	require.NoError(t, f.workspace.Complete(ctx, s.ID))

	// unmatch is rejected once completed
	err := f.workspace.Unmatch(ctx, s.Transactions[0].ID)
	require.ErrorIs(t, err, ledger.ErrStatementCompleted)

	// so are further matches, imports, and matching runs
	err = f.workspace.Reconcile(ctx, s.Transactions[0].ID, spare.ID)
	require.ErrorIs(t, err, ledger.ErrStatementCompleted)
	_, err = f.workspace.ImportTransactions(ctx, s.ID, strings.NewReader("date,description,amount\n2026-03-05,late,5.00\n"))
	require.ErrorIs(t, err, ledger.ErrStatementCompleted)
	_, err = f.workspace.MatchCandidates(ctx, s.ID)
	require.ErrorIs(t, err, ledger.ErrStatementCompleted)

	// re-completing is a conflict
	err = f.workspace.Complete(ctx, s.ID)
	require.ErrorIs(t, err, ledger.ErrConflict)
}

func TestUnmatchReopensMatchedStatement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	one := f.postCash(t, 2, 100.00, "one")
	two := f.postCash(t, 3, 150.00, "two")
	s := f.newStatement(t, 1000, 1250)
	s = f.importRows(t, s.ID, "2026-03-02,one,100.00", "2026-03-03,two,150.00")
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[0].ID, one.ID))
	require.NoError(t, f.workspace.Reconcile(ctx, s.Transactions[1].ID, two.ID))

	matched, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusMatched, matched.Status)

	require.NoError(t, f.workspace.Unmatch(ctx, s.Transactions[0].ID))
	reopened, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatementStatusInProgress, reopened.Status)
	require.False(t, reopened.Transactions[0].Reconciled)

	// the ledger side is released too
	got, err := f.engine.Get(ctx, one.ID)
	require.NoError(t, err)
	require.Equal(t, repository.TransactionStatusPosted, got.Status)

	// unmatching a row that holds no match is a quiet no-op
	require.NoError(t, f.workspace.Unmatch(ctx, s.Transactions[0].ID))
}

func TestDuplicateStatementRowsKeepDistinctIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.postCash(t, 2, 25.00, "coffee beans")
	b := f.postCash(t, 2, 25.00, "coffee beans")

	s := f.newStatement(t, 0, 50)
	s = f.importRows(t, s.ID, "2026-03-02,coffee beans,25.00", "2026-03-02,coffee beans,25.00")
	require.NotEqual(t, s.Transactions[0].ID, s.Transactions[1].ID)

	cands, err := f.workspace.MatchCandidates(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.NotEqual(t, cands[0].StatementTransactionID, cands[1].StatementTransactionID)
	require.NotEqual(t, cands[0].TransactionID, cands[1].TransactionID)
	require.ElementsMatch(t, []string{a.ID, b.ID}, []string{cands[0].TransactionID, cands[1].TransactionID})

	// confirming both never reconciles the same instance twice
	for _, c := range cands {
		require.NoError(t, f.workspace.Reconcile(ctx, c.StatementTransactionID, c.TransactionID))
	}
	got, err := f.workspace.GetStatement(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, got.Transactions[0].Reconciled)
	require.True(t, got.Transactions[1].Reconciled)
}

func TestCreateStatementUnknownAccount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.workspace.CreateStatement(context.Background(), "ghost",
		time.Now(), time.Now(), 0, 0)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
