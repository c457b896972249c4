package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bankrepo "github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
	importhandler "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/handler"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	ledgerrepo "github.com/FACorreiaa/ledger-reconciler/internal/domain/ledger/repository"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/dedupe"
	reconcilehandler "github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/handler"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
	reconcileservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/service"

	"github.com/FACorreiaa/ledger-reconciler/pkg/assist"
	"github.com/FACorreiaa/ledger-reconciler/pkg/config"
	"github.com/FACorreiaa/ledger-reconciler/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	BankRepo   bankrepo.BankRepository
	LedgerRepo ledgerrepo.LedgerRepository

	// Services
	Assist           *assist.Client
	ImportService    *importservice.ImportService
	Deduplicator     *dedupe.Deduplicator
	ReconcileService *reconcileservice.Service

	// Handlers
	ImportHandler    *importhandler.ImportHandler
	ReconcileHandler *reconcilehandler.ReconcileHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// OpenDatabase connects to PostgreSQL with the pool settings used by every entrypoint.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	return db.New(ctx, db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, logger)
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := OpenDatabase(ctx, d.Config, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(ctx); err != nil {
		d.DB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.BankRepo = bankrepo.NewPostgresBankRepository(d.DB.Pool)
	d.LedgerRepo = ledgerrepo.NewPostgresLedgerRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies. The collaborator
// interfaces stay nil unless the assist client is enabled, so every consumer
// uses its deterministic fallback.
func (d *Dependencies) initServices() error {
	var (
		parser    importservice.StatementParser
		confirmer dedupe.Confirmer
		verifier  matcher.Verifier
	)

	if d.Config.Assist.Enabled {
		client, err := assist.NewClient(assist.Config{
			BaseURL:           d.Config.Assist.BaseURL,
			APIKey:            d.Config.Assist.APIKey,
			Model:             d.Config.Assist.Model,
			Timeout:           d.Config.Assist.Timeout,
			RequestsPerMinute: d.Config.Assist.RequestsPerMinute,
		}, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create assist client: %w", err)
		}
		d.Assist = client
		parser, confirmer, verifier = client, client, client
		d.Logger.Info("assist collaborator enabled", slog.String("model", d.Config.Assist.Model))
	} else {
		d.Logger.Info("assist collaborator disabled; using deterministic fallbacks")
	}

	d.ImportService = importservice.NewImportService(d.BankRepo, parser, d.Logger)
	d.Deduplicator = dedupe.NewDeduplicator(d.BankRepo, confirmer, d.Logger)
	d.ReconcileService = reconcileservice.NewService(d.LedgerRepo, d.BankRepo, d.Deduplicator, verifier, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Config.Server.MaxUploadBytes, d.Logger)
	d.ReconcileHandler = reconcilehandler.NewReconcileHandler(d.ReconcileService, d.Logger)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
