package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
)

type entryRequest struct {
	AccountID   string  `json:"accountId"`
	Amount      float64 `json:"amount"`
	Description *string `json:"description,omitempty"`
}

type createTransactionRequest struct {
	Date        string         `json:"date"`
	Description string         `json:"description"`
	Reference   *string        `json:"reference,omitempty"`
	Entries     []entryRequest `json:"entries"`
}

type entryJSON struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"accountId"`
	Amount      float64 `json:"amount"`
	Description *string `json:"description,omitempty"`
}

type transactionJSON struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Date           string      `json:"date"`
	Description    string      `json:"description"`
	Reference      *string     `json:"reference,omitempty"`
	Status         string      `json:"status"`
	Entries        []entryJSON `json:"entries"`
}

type accountJSON struct {
	ID             string  `json:"id"`
	AccountNumber  string  `json:"accountNumber"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Subtype        *string `json:"subtype,omitempty"`
	Description    *string `json:"description,omitempty"`
	CurrentBalance float64 `json:"currentBalance"`
}

func toTransactionJSON(t repository.Transaction) transactionJSON {
	out := transactionJSON{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		Date:           t.Date.Format("2006-01-02"),
		Description:    t.Description,
		Reference:      t.Reference,
		Status:         t.Status,
		Entries:        make([]entryJSON, 0, len(t.Entries)),
	}
	for _, e := range t.Entries {
		out.Entries = append(out.Entries, entryJSON{ID: e.ID, AccountID: e.AccountID, Amount: e.Amount, Description: e.Description})
	}
	return out
}

func toAccountJSON(a repository.Account) accountJSON {
	return accountJSON{
		ID:             a.ID,
		AccountNumber:  a.AccountNumber,
		Name:           a.Name,
		Type:           a.Type,
		Subtype:        a.Subtype,
		Description:    a.Description,
		CurrentBalance: a.CurrentBalance,
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := parseDateParam(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	in := ledger.CreateInput{
		OrganizationID: orgID,
		Date:           date,
		Description:    req.Description,
		Reference:      req.Reference,
	}
	for _, e := range req.Entries {
		in.Entries = append(in.Entries, ledger.EntryInput{AccountID: e.AccountID, Amount: e.Amount, Description: e.Description})
	}
	t, err := s.engine.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(*t))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(*t))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	f, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 50)
	txns, p, err := s.engine.List(r.Context(), orgID, f, page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data := make([]transactionJSON, 0, len(txns))
	for _, t := range txns {
		data = append(data, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data, "pagination": p})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	accounts, err := s.accounts.List(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, &ledger.PersistenceError{Op: "list accounts", Err: err})
		return
	}
	data := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		data = append(data, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleImportAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	file, err := uploadedFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()
	res, err := s.importer.ImportAccounts(r.Context(), file, orgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	success := make([]accountJSON, 0, len(res.Success))
	for _, a := range res.Success {
		success = append(success, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": success, "errors": notNil(res.Errors)})
}

func (s *Server) handleExportAccounts(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="accounts.csv"`)
	if err := s.exporter.ExportAccounts(r.Context(), w, orgID); err != nil {
		s.log.Error("account export failed", zap.Error(err))
	}
}

func (s *Server) handleAuditBalances(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	drift, err := s.engine.AuditBalances(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type driftJSON struct {
		AccountID string  `json:"accountId"`
		Stored    float64 `json:"stored"`
		Computed  float64 `json:"computed"`
	}
	data := make([]driftJSON, 0, len(drift))
	for _, d := range drift {
		data = append(data, driftJSON{AccountID: d.AccountID, Stored: d.Stored, Computed: d.Computed})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drift": data, "clean": len(data) == 0})
}

func (s *Server) handleImportTransactions(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	file, err := uploadedFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()
	res, err := s.importer.ImportTransactions(r.Context(), file, orgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	success := make([]transactionJSON, 0, len(res.Success))
	for _, t := range res.Success {
		success = append(success, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": success, "errors": notNil(res.Errors)})
}

func (s *Server) handleExportTransactions(w http.ResponseWriter, r *http.Request) {
	orgID := organizationID(r)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return
	}
	f, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	if err := s.exporter.ExportTransactions(r.Context(), w, orgID, f); err != nil {
		s.log.Error("transaction export failed", zap.Error(err))
	}
}

// uploadedFile returns the request's file payload, either the "file"
// part of a multipart form or the raw body.
func uploadedFile(r *http.Request) (io.ReadCloser, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		return file, nil
	}
	return r.Body, nil
}

func filtersFromQuery(r *http.Request) (repository.TransactionFilters, error) {
	var f repository.TransactionFilters
	q := r.URL.Query()
	if v := q.Get("startDate"); v != "" {
		d, err := parseDateParam(v)
		if err != nil {
			return f, err
		}
		f.StartDate = &d
	}
	if v := q.Get("endDate"); v != "" {
		d, err := parseDateParam(v)
		if err != nil {
			return f, err
		}
		f.EndDate = &d
	}
	f.AccountID = q.Get("accountId")
	f.Status = q.Get("status")
	return f, nil
}

func parseDateParam(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func notNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}
