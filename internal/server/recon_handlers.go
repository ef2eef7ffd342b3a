package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finbooks/finbooks/internal/database/repository"
)

type createStatementRequest struct {
	AccountID      string  `json:"accountId"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	OpeningBalance float64 `json:"openingBalance"`
	ClosingBalance float64 `json:"closingBalance"`
}

type statementTransactionJSON struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Reference   *string `json:"reference,omitempty"`
	Reconciled  bool    `json:"reconciled"`
}

type statementJSON struct {
	ID             string                     `json:"id"`
	AccountID      string                     `json:"accountId"`
	StartDate      string                     `json:"startDate"`
	EndDate        string                     `json:"endDate"`
	OpeningBalance float64                    `json:"openingBalance"`
	ClosingBalance float64                    `json:"closingBalance"`
	Status         string                     `json:"status"`
	Transactions   []statementTransactionJSON `json:"transactions"`
}

func toStatementJSON(s repository.Statement) statementJSON {
	out := statementJSON{
		ID:             s.ID,
		AccountID:      s.AccountID,
		StartDate:      s.StartDate.Format("2006-01-02"),
		EndDate:        s.EndDate.Format("2006-01-02"),
		OpeningBalance: s.OpeningBalance,
		ClosingBalance: s.ClosingBalance,
		Status:         s.Status,
		Transactions:   make([]statementTransactionJSON, 0, len(s.Transactions)),
	}
	for _, st := range s.Transactions {
		out.Transactions = append(out.Transactions, statementTransactionJSON{
			ID:          st.ID,
			Date:        st.Date.Format("2006-01-02"),
			Description: st.Description,
			Amount:      st.Amount,
			Reference:   st.Reference,
			Reconciled:  st.Reconciled,
		})
	}
	return out
}

func (s *Server) handleCreateStatement(w http.ResponseWriter, r *http.Request) {
	var req createStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start, err := parseDateParam(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	end, err := parseDateParam(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}
	stmt, err := s.workspace.CreateStatement(r.Context(), req.AccountID, start, end, req.OpeningBalance, req.ClosingBalance)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStatementJSON(*stmt))
}

func (s *Server) handleListStatements(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 50)
	stmts, p, err := s.workspace.ListStatements(r.Context(), r.URL.Query().Get("accountId"), page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data := make([]statementJSON, 0, len(stmts))
	for _, stmt := range stmts {
		data = append(data, toStatementJSON(stmt))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": data, "pagination": p})
}

func (s *Server) handleGetStatement(w http.ResponseWriter, r *http.Request) {
	stmt, err := s.workspace.GetStatement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementJSON(*stmt))
}

func (s *Server) handleImportStatementTransactions(w http.ResponseWriter, r *http.Request) {
	file, err := uploadedFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()
	res, err := s.workspace.ImportTransactions(r.Context(), chi.URLParam(r, "id"), file)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imported": res.Imported, "errors": notNil(res.Errors)})
}

func (s *Server) handleMatchStatement(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.workspace.MatchCandidates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func (s *Server) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StatementTransactionID string `json:"statementTransactionId"`
		TransactionID          string `json:"transactionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.workspace.Reconcile(r.Context(), req.StatementTransactionID, req.TransactionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reconciled": true})
}

func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	if err := s.workspace.Unmatch(r.Context(), chi.URLParam(r, "statementTransactionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reconciled": false})
}

func (s *Server) handleCompleteStatement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.workspace.Complete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	stmt, err := s.workspace.GetStatement(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementJSON(*stmt))
}
