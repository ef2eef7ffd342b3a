package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
)

// Importer handles bulk CSV imports. Row and group failures accumulate
// in the result; a malformed row never aborts the batch.
type Importer struct {
	Accounts *repository.AccountRepo
	Engine   *ledger.Engine
	Log      *zap.Logger
}

// AccountImportResult reports per-batch outcomes.
type AccountImportResult struct {
	Success []repository.Account
	Errors  []string
}

// TransactionImportResult reports per-batch outcomes.
type TransactionImportResult struct {
	Success []repository.Transaction
	Errors  []string
}

// accountRow is a validated account import row.
type accountRow struct {
	AccountNumber  string
	Name           string
	Type           string
	Subtype        *string
	Description    *string
	OpeningBalance float64
}

// entryRow is a validated transaction import row: one ledger entry of a
// flattened transaction, tagged with its grouping key.
type entryRow struct {
	Key           string
	Line          int
	Date          time.Time
	Description   string
	AccountNumber string
	Amount        float64
	EntryDesc     *string
}

var accountTypes = map[string]bool{
	repository.AccountTypeAsset:     true,
	repository.AccountTypeLiability: true,
	repository.AccountTypeEquity:    true,
	repository.AccountTypeIncome:    true,
	repository.AccountTypeExpense:   true,
}

// ImportAccounts parses rows with header
// accountNumber,name,type[,subtype,description,openingBalance] and
// creates one account per valid row.
func (s *Importer) ImportAccounts(ctx context.Context, r io.Reader, orgID string) (AccountImportResult, error) {
	res := AccountImportResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	header, err := readHeader(csvr)
	if err != nil {
		return res, err
	}

	line := 1
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		row, err := parseAccountRow(header, rec)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		existing, err := s.Accounts.GetByNumber(ctx, orgID, row.AccountNumber)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if existing != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: duplicate account number %s", line, row.AccountNumber))
			continue
		}

		a := repository.Account{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			AccountNumber:  row.AccountNumber,
			Name:           row.Name,
			Type:           row.Type,
			Subtype:        row.Subtype,
			Description:    row.Description,
			OpeningBalance: row.OpeningBalance,
			CurrentBalance: row.OpeningBalance,
		}
		if err := s.Accounts.Insert(ctx, a); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: duplicate account number %s", line, row.AccountNumber))
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		res.Success = append(res.Success, a)
	}

	s.Log.Info("account import finished",
		zap.String("organization_id", orgID),
		zap.Int("imported", len(res.Success)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// ImportTransactions parses flattened rows (one row per ledger entry,
// grouped by an explicit TransactionID or Reference key) and commits
// each complete group as one atomic transaction. Groups are
// independent: one group's failure never blocks another.
func (s *Importer) ImportTransactions(ctx context.Context, r io.Reader, orgID string) (TransactionImportResult, error) {
	res := TransactionImportResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	header, err := readHeader(csvr)
	if err != nil {
		return res, err
	}

	groups := map[string][]entryRow{}
	poisoned := map[string]bool{}
	var order []string

	line := 1
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		row, err := parseEntryRow(header, rec)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			// a bad row invalidates its whole group; committing the
			// remainder could post a partial transaction
			if key := groupKey(header, rec); key != "" {
				if _, seen := groups[key]; !seen && !poisoned[key] {
					order = append(order, key)
				}
				poisoned[key] = true
			}
			continue
		}
		row.Line = line
		if _, seen := groups[row.Key]; !seen && !poisoned[row.Key] {
			order = append(order, row.Key)
		}
		groups[row.Key] = append(groups[row.Key], row)
	}

	for _, key := range order {
		if poisoned[key] {
			res.Errors = append(res.Errors, fmt.Sprintf("transaction %s: skipped, contains invalid rows", key))
			continue
		}
		t, err := s.commitGroup(ctx, orgID, key, groups[key])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("transaction %s: %v", key, err))
			continue
		}
		res.Success = append(res.Success, *t)
	}

	s.Log.Info("transaction import finished",
		zap.String("organization_id", orgID),
		zap.Int("imported", len(res.Success)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// commitGroup materializes one full group, validates it, and hands it
// to the engine as a single atomic commit.
func (s *Importer) commitGroup(ctx context.Context, orgID, key string, rows []entryRow) (*repository.Transaction, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("requires at least 2 entries, got %d", len(rows))
	}

	var sum float64
	entries := make([]ledger.EntryInput, 0, len(rows))
	for _, row := range rows {
		acct, err := s.Accounts.GetByNumber(ctx, orgID, row.AccountNumber)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, fmt.Errorf("line %d: unknown account number %s", row.Line, row.AccountNumber)
		}
		sum += row.Amount
		entries = append(entries, ledger.EntryInput{
			AccountID:   acct.ID,
			Amount:      row.Amount,
			Description: row.EntryDesc,
		})
	}
	if math.Abs(sum) > ledger.Epsilon {
		return nil, fmt.Errorf("entries sum to %.2f, not zero", sum)
	}

	ref := key
	return s.Engine.Create(ctx, ledger.CreateInput{
		OrganizationID: orgID,
		Date:           rows[0].Date,
		Description:    rows[0].Description,
		Reference:      &ref,
		Entries:        entries,
	})
}

// readHeader reads the first record and indexes normalized column names.
func readHeader(csvr *csv.Reader) (map[string]int, error) {
	rec, err := csvr.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header row: %w", err)
	}
	header := make(map[string]int, len(rec))
	for i, name := range rec {
		header[normalizeColumn(name)] = i
	}
	return header, nil
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

func field(header map[string]int, rec []string, names ...string) string {
	for _, name := range names {
		if i, ok := header[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
	}
	return ""
}

func parseAccountRow(header map[string]int, rec []string) (accountRow, error) {
	row := accountRow{
		AccountNumber: field(header, rec, "accountnumber"),
		Name:          field(header, rec, "name"),
		Type:          strings.ToUpper(field(header, rec, "type")),
	}
	if row.AccountNumber == "" {
		return accountRow{}, fmt.Errorf("missing accountNumber")
	}
	if row.Name == "" {
		return accountRow{}, fmt.Errorf("missing name")
	}
	if !accountTypes[row.Type] {
		return accountRow{}, fmt.Errorf("invalid account type %q", row.Type)
	}
	row.Subtype = nullableStr(field(header, rec, "subtype"))
	row.Description = nullableStr(field(header, rec, "description"))
	// exported currentBalance re-imports as the opening balance
	if raw := field(header, rec, "openingbalance", "currentbalance"); raw != "" {
		bal, err := parseAmount(raw)
		if err != nil {
			return accountRow{}, fmt.Errorf("openingBalance: %w", err)
		}
		row.OpeningBalance = bal
	}
	return row, nil
}

// groupKey reads the explicit grouping key: the TransactionID column,
// falling back to Reference. Transaction boundaries are never inferred
// from row adjacency.
func groupKey(header map[string]int, rec []string) string {
	if key := field(header, rec, "transactionid"); key != "" {
		return key
	}
	return field(header, rec, "reference")
}

func parseEntryRow(header map[string]int, rec []string) (entryRow, error) {
	key := groupKey(header, rec)
	if key == "" {
		return entryRow{}, fmt.Errorf("missing transaction id or reference grouping key")
	}

	dateStr := field(header, rec, "date")
	date, err := parseDate(dateStr)
	if err != nil {
		return entryRow{}, fmt.Errorf("date: %w", err)
	}

	acctNum := field(header, rec, "accountnumber")
	if acctNum == "" {
		return entryRow{}, fmt.Errorf("missing accountNumber")
	}

	amount, err := parseAmount(field(header, rec, "amount"))
	if err != nil {
		return entryRow{}, fmt.Errorf("amount: %w", err)
	}

	return entryRow{
		Key:           key,
		Date:          date,
		Description:   field(header, rec, "description"),
		AccountNumber: acctNum,
		Amount:        amount,
		EntryDesc:     nullableStr(field(header, rec, "entrydescription")),
	}, nil
}

func parseAmount(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("missing amount")
	}
	return strconv.ParseFloat(s, 64)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullableStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
