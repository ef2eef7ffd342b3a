package service

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/finbooks/finbooks/internal/database/repository"
)

// Exporter serializes accounts and transactions back out as CSV.
type Exporter struct {
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
}

// ExportAccounts writes all accounts ordered by account number. The
// exported balance becomes the opening balance on re-import.
func (s *Exporter) ExportAccounts(ctx context.Context, w io.Writer, orgID string) error {
	accounts, err := s.Accounts.List(ctx, orgID)
	if err != nil {
		return err
	}
	csvw := csv.NewWriter(w)
	if err := csvw.Write([]string{"accountNumber", "name", "type", "subtype", "description", "currentBalance"}); err != nil {
		return err
	}
	for _, a := range accounts {
		rec := []string{
			a.AccountNumber,
			a.Name,
			a.Type,
			strValue(a.Subtype),
			strValue(a.Description),
			strconv.FormatFloat(a.CurrentBalance, 'f', 2, 64),
		}
		if err := csvw.Write(rec); err != nil {
			return err
		}
	}
	csvw.Flush()
	return csvw.Error()
}

// ExportTransactions flattens each transaction into one row per entry,
// ordered by date descending. The account filter runs over the
// materialized result set; export has no pagination, so nothing can
// under-fill.
func (s *Exporter) ExportTransactions(ctx context.Context, w io.Writer, orgID string, f repository.TransactionFilters) error {
	accountID := f.AccountID
	f.AccountID = ""
	txns, err := s.Transactions.ListAll(ctx, orgID, f)
	if err != nil {
		return err
	}
	if accountID != "" {
		filtered := txns[:0]
		for _, t := range txns {
			if touchesAccount(t, accountID) {
				filtered = append(filtered, t)
			}
		}
		txns = filtered
	}

	numbers, err := s.accountNumbers(ctx, orgID)
	if err != nil {
		return err
	}

	csvw := csv.NewWriter(w)
	if err := csvw.Write([]string{"TransactionID", "Date", "Description", "AccountNumber", "Amount", "EntryDescription"}); err != nil {
		return err
	}
	for _, t := range txns {
		for _, e := range t.Entries {
			rec := []string{
				t.ID,
				t.Date.Format("2006-01-02"),
				t.Description,
				numbers[e.AccountID],
				strconv.FormatFloat(e.Amount, 'f', 2, 64),
				strValue(e.Description),
			}
			if err := csvw.Write(rec); err != nil {
				return err
			}
		}
	}
	csvw.Flush()
	return csvw.Error()
}

func (s *Exporter) accountNumbers(ctx context.Context, orgID string) (map[string]string, error) {
	accounts, err := s.Accounts.List(ctx, orgID)
	if err != nil {
		return nil, err
	}
	numbers := make(map[string]string, len(accounts))
	for _, a := range accounts {
		numbers[a.ID] = a.AccountNumber
	}
	return numbers, nil
}

func touchesAccount(t repository.Transaction, accountID string) bool {
	for _, e := range t.Entries {
		if e.AccountID == accountID {
			return true
		}
	}
	return false
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
