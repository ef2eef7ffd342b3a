package recon

import (
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
)

// Candidate is a proposed pairing of a statement row and a ledger
// transaction with a confidence score in [0,1].
type Candidate struct {
	StatementTransactionID string  `json:"statementTransactionId"`
	TransactionID          string  `json:"transactionId"`
	Confidence             float64 `json:"confidence"`
}

// Matcher proposes candidate pairings between unreconciled statement
// rows and unreconciled ledger transactions for one account. It never
// reconciles anything by itself.
type Matcher interface {
	Match(accountID string, statementTxns []repository.StatementTransaction, ledgerTxns []repository.Transaction) []Candidate
}

// HeuristicMatcher scores exact amount+date pairs highest, then amount
// with a nearby date, then description similarity.
type HeuristicMatcher struct {
	// MaxDateDrift bounds how far apart dates may be for amount-based
	// matches. Zero means the default of 7 days.
	MaxDateDrift int
}

const minConfidence = 0.3

func (m *HeuristicMatcher) Match(accountID string, statementTxns []repository.StatementTransaction, ledgerTxns []repository.Transaction) []Candidate {
	maxDrift := m.MaxDateDrift
	if maxDrift <= 0 {
		maxDrift = 7
	}

	var out []Candidate
	used := map[string]bool{}
	for _, st := range statementTxns {
		if st.Reconciled {
			continue
		}
		best := Candidate{}
		for _, lt := range ledgerTxns {
			if used[lt.ID] || lt.Status == repository.TransactionStatusReconciled {
				continue
			}
			c := m.score(accountID, st, lt, maxDrift)
			if c > best.Confidence {
				best = Candidate{StatementTransactionID: st.ID, TransactionID: lt.ID, Confidence: c}
			}
		}
		if best.Confidence >= minConfidence {
			// claim the ledger side so duplicate statement rows with
			// identical values pair with distinct transactions
			used[best.TransactionID] = true
			out = append(out, best)
		}
	}
	return out
}

func (m *HeuristicMatcher) score(accountID string, st repository.StatementTransaction, lt repository.Transaction, maxDrift int) float64 {
	amount := entryAmountFor(lt, accountID)
	amountMatches := math.Abs(amount-st.Amount) <= ledger.Epsilon
	drift := daysApart(st.Date, lt.Date)

	if amountMatches && drift == 0 {
		return 1.0
	}
	if amountMatches && drift <= maxDrift {
		return 0.9 - 0.05*float64(drift)
	}
	sim := descriptionSimilarity(st.Description, lt.Description)
	if amountMatches {
		return 0.5 + 0.3*sim
	}
	return 0.5 * sim
}

// entryAmountFor sums the transaction's entries posted to the
// statement's account; that is the figure a bank row can agree with.
func entryAmountFor(t repository.Transaction, accountID string) float64 {
	var sum float64
	for _, e := range t.Entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum
}

func descriptionSimilarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
