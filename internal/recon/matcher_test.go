package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finbooks/finbooks/internal/database/repository"
)

func ledgerTxn(id string, day int, amount float64, desc string) repository.Transaction {
	return repository.Transaction{
		ID:          id,
		Date:        time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Status:      repository.TransactionStatusPosted,
		Entries: []repository.LedgerEntry{
			{AccountID: "acct-cash", Amount: amount},
			{AccountID: "acct-sales", Amount: -amount},
		},
	}
}

func statementRow(id string, day int, amount float64, desc string) repository.StatementTransaction {
	return repository.StatementTransaction{
		ID:          id,
		Date:        time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      amount,
	}
}

func TestHeuristicMatcherScoringTiers(t *testing.T) {
	t.Parallel()
	m := &HeuristicMatcher{}

	exact := ledgerTxn("tx-exact", 5, 42.50, "SUPPLIER PAYMENT")
	near := ledgerTxn("tx-near", 8, 17.00, "WEEKLY DELIVERY")
	fuzzy := ledgerTxn("tx-fuzzy", 20, 99.99, "COFFEE ROASTERS LTD")

	rows := []repository.StatementTransaction{
		statementRow("st-exact", 5, 42.50, "supplier payment"),
		statementRow("st-near", 5, 17.00, "weekly delivery"),
		statementRow("st-fuzzy", 5, 99.99, "COFFEE ROASTERS LTD"),
	}

	cands := m.Match("acct-cash", rows, []repository.Transaction{exact, near, fuzzy})
	require.Len(t, cands, 3)

	byRow := map[string]Candidate{}
	for _, c := range cands {
		byRow[c.StatementTransactionID] = c
	}

	require.Equal(t, "tx-exact", byRow["st-exact"].TransactionID)
	require.InDelta(t, 1.0, byRow["st-exact"].Confidence, 0.0001)

	// three days apart: 0.9 - 0.05*3
	require.Equal(t, "tx-near", byRow["st-near"].TransactionID)
	require.InDelta(t, 0.75, byRow["st-near"].Confidence, 0.0001)

	// amount matches but the date is outside the drift window, so the
	// identical description carries it
	require.Equal(t, "tx-fuzzy", byRow["st-fuzzy"].TransactionID)
	require.InDelta(t, 0.8, byRow["st-fuzzy"].Confidence, 0.0001)
}

func TestHeuristicMatcherSkipsWeakPairs(t *testing.T) {
	t.Parallel()
	m := &HeuristicMatcher{}

	rows := []repository.StatementTransaction{
		statementRow("st-1", 5, 10.00, "abc"),
	}
	txns := []repository.Transaction{
		ledgerTxn("tx-1", 5, 999.00, "xyzqw"),
	}
	require.Empty(t, m.Match("acct-cash", rows, txns))
}

func TestHeuristicMatcherAmountUsesStatementAccountEntries(t *testing.T) {
	t.Parallel()
	m := &HeuristicMatcher{}

	// a four-entry split: only the cash legs count toward the bank figure
	tx := repository.Transaction{
		ID:          "tx-split",
		Date:        time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "payroll",
		Status:      repository.TransactionStatusPosted,
		Entries: []repository.LedgerEntry{
			{AccountID: "acct-cash", Amount: -800.00},
			{AccountID: "acct-cash", Amount: -200.00},
			{AccountID: "acct-wages", Amount: 900.00},
			{AccountID: "acct-taxes", Amount: 100.00},
		},
	}
	rows := []repository.StatementTransaction{
		statementRow("st-1", 5, -1000.00, "payroll"),
	}
	cands := m.Match("acct-cash", rows, []repository.Transaction{tx})
	require.Len(t, cands, 1)
	require.InDelta(t, 1.0, cands[0].Confidence, 0.0001)
}

func TestHeuristicMatcherClaimsEachTransactionOnce(t *testing.T) {
	t.Parallel()
	m := &HeuristicMatcher{}

	a := ledgerTxn("tx-a", 5, 25.00, "coffee beans")
	b := ledgerTxn("tx-b", 5, 25.00, "coffee beans")
	rows := []repository.StatementTransaction{
		statementRow("st-1", 5, 25.00, "coffee beans"),
		statementRow("st-2", 5, 25.00, "coffee beans"),
	}

	cands := m.Match("acct-cash", rows, []repository.Transaction{a, b})
	require.Len(t, cands, 2)
	require.NotEqual(t, cands[0].TransactionID, cands[1].TransactionID)
	require.ElementsMatch(t, []string{"tx-a", "tx-b"},
		[]string{cands[0].TransactionID, cands[1].TransactionID})
}

func TestHeuristicMatcherIgnoresReconciledSides(t *testing.T) {
	t.Parallel()
	m := &HeuristicMatcher{}

	done := ledgerTxn("tx-done", 5, 30.00, "rent")
	done.Status = repository.TransactionStatusReconciled
	row := statementRow("st-1", 5, 30.00, "rent")
	require.Empty(t, m.Match("acct-cash", []repository.StatementTransaction{row}, []repository.Transaction{done}))

	row.Reconciled = true
	open := ledgerTxn("tx-open", 5, 30.00, "rent")
	require.Empty(t, m.Match("acct-cash", []repository.StatementTransaction{row}, []repository.Transaction{open}))
}
