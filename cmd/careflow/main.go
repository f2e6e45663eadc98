package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/careflow/careflow/internal/api"
	"github.com/careflow/careflow/internal/clinic"
	"github.com/careflow/careflow/internal/config"
	"github.com/careflow/careflow/internal/db"
	"github.com/careflow/careflow/internal/engine"
	"github.com/careflow/careflow/internal/repository"
	"github.com/careflow/careflow/internal/services"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("careflow v0.1.0")
	fmt.Println("Usage: careflow serve")
}

func serve() {
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	registry, ledger := buildStores(cfg)

	// The clinic side is an in-process stub until the EHR/CRM core exposes
	// its read and write APIs to this service.
	records := clinic.NewMemoryClinic()
	messenger := &clinic.RecordingMessenger{}
	tasks := &clinic.RecordingTasks{}

	executor := engine.NewActionExecutor(messenger, records, tasks,
		time.Duration(cfg.Engine.ActionTimeoutSeconds)*time.Second)
	limiter := engine.NewRateLimiter(ledger)
	dispatcher := engine.NewDispatcher(registry, ledger, limiter, executor, records)
	harness := engine.NewHarness(executor)

	scheduler := services.NewTimeTriggerScheduler(registry, records, dispatcher)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			slog.Error("scheduler error", "err", err)
			os.Exit(1)
		}
		defer scheduler.Stop()
	}

	workflowSvc := services.NewWorkflowService(registry)
	historySvc := services.NewExecutionHistoryService(registry, ledger)
	srv := api.NewServer(workflowSvc, historySvc, dispatcher, harness, scheduler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		slog.Info("starting careflow server", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// buildStores wires persistence. With a DATABASE_URL the workflow registry
// is write-through memory over Postgres and the execution ledger is
// Postgres-only (counters need one source of truth). Without one, both are
// purely in-memory.
func buildStores(cfg *config.Config) (repository.WorkflowRegistry, repository.ExecutionLedger) {
	if cfg.Database.URL == "" {
		slog.Info("no database configured, using in-memory stores")
		return repository.NewMemoryWorkflowRegistry(), repository.NewMemoryExecutionLedger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("database error", "err", err)
		os.Exit(1)
	}
	if err := database.Migrate(ctx); err != nil {
		slog.Error("migration error", "err", err)
		os.Exit(1)
	}

	mem := repository.NewMemoryWorkflowRegistry()
	return repository.NewPersistentWorkflowRegistry(mem, database),
		repository.NewPersistentExecutionLedger(database)
}
