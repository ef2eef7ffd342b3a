package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finbooks/finbooks/internal/config"
	"github.com/finbooks/finbooks/internal/database"
	"github.com/finbooks/finbooks/internal/database/repository"
	"github.com/finbooks/finbooks/internal/ledger"
	"github.com/finbooks/finbooks/internal/recon"
	"github.com/finbooks/finbooks/internal/server"
	"github.com/finbooks/finbooks/internal/service"
)

func main() {
	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Fatal("mkdir db dir", zap.Error(err))
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// repositories
	acctRepo := repository.NewAccountRepo(db)
	txRepo := repository.NewTransactionRepo(db)
	stmtRepo := repository.NewStatementRepo(db)
	matchRepo := repository.NewMatchRepo(db)

	// core
	engine := ledger.NewEngine(db, acctRepo, txRepo, logger)
	importer := &service.Importer{Accounts: acctRepo, Engine: engine, Log: logger}
	exporter := &service.Exporter{Accounts: acctRepo, Transactions: txRepo}
	matcher := &recon.HeuristicMatcher{MaxDateDrift: cfg.Reconciliation.MaxDateDriftDays}
	workspace := recon.NewWorkspace(db, stmtRepo, matchRepo, txRepo, acctRepo, matcher, logger)

	srv := server.New(engine, importer, exporter, workspace, acctRepo, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}
}
