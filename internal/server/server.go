package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
	"github.com/finbooks/finbooks/internal/recon"
	"github.com/finbooks/finbooks/internal/service"
)

// Server wires the core onto the HTTP boundary.
type Server struct {
	engine    *ledger.Engine
	importer  *service.Importer
	exporter  *service.Exporter
	workspace *recon.Workspace
	accounts  *repository.AccountRepo
	log       *zap.Logger
}

func New(engine *ledger.Engine, importer *service.Importer, exporter *service.Exporter,
	workspace *recon.Workspace, accounts *repository.AccountRepo, log *zap.Logger) *Server {
	return &Server{
		engine:    engine,
		importer:  importer,
		exporter:  exporter,
		workspace: workspace,
		accounts:  accounts,
		log:       log,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.handleCreateTransaction)
			r.Get("/", s.handleListTransactions)
			r.Post("/import", s.handleImportTransactions)
			r.Get("/export", s.handleExportTransactions)
			r.Get("/{id}", s.handleGetTransaction)
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/import", s.handleImportAccounts)
			r.Get("/export", s.handleExportAccounts)
			r.Post("/audit", s.handleAuditBalances)
		})
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/statements", s.handleCreateStatement)
			r.Get("/statements", s.handleListStatements)
			r.Get("/statements/{id}", s.handleGetStatement)
			r.Post("/statements/{id}/transactions", s.handleImportStatementTransactions)
			r.Post("/statements/{id}/match", s.handleMatchStatement)
			r.Post("/statements/{id}/complete", s.handleCompleteStatement)
			r.Post("/matches", s.handleConfirmMatch)
			r.Delete("/matches/{statementTransactionID}", s.handleUnmatch)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// organizationID resolves the caller's organization. Auth and session
// handling live in front of this service; the header is the contract.
func organizationID(r *http.Request) string {
	return r.Header.Get("X-Organization-ID")
}
