package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finbooks/finbooks/internal/ledger"
	"github.com/finbooks/finbooks/internal/recon"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Status: "error", Message: msg})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var mismatch *ledger.BalanceMismatchError
	var persistence *ledger.PersistenceError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrStatementCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrUnbalanced),
		errors.Is(err, ledger.ErrTooFewEntries),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, recon.ErrUnreconciledTransactions):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &mismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &persistence):
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
