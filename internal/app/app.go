// Package app wires configuration, storage and services into the billing
// application shared by the api server, the relay worker and billingctl.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/billing-api/config"
	"github.com/jwalitptl/billing-api/internal/email"
	"github.com/jwalitptl/billing-api/internal/handler"
	auditHandler "github.com/jwalitptl/billing-api/internal/handler/audit"
	billingHandler "github.com/jwalitptl/billing-api/internal/handler/billing"
	stockHandler "github.com/jwalitptl/billing-api/internal/handler/stock"
	"github.com/jwalitptl/billing-api/internal/middleware"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/internal/repository/memory"
	"github.com/jwalitptl/billing-api/internal/repository/sqlstore"
	"github.com/jwalitptl/billing-api/internal/router"
	"github.com/jwalitptl/billing-api/internal/service/audit"
	"github.com/jwalitptl/billing-api/internal/service/dues"
	"github.com/jwalitptl/billing-api/internal/service/event"
	"github.com/jwalitptl/billing-api/internal/service/fee"
	"github.com/jwalitptl/billing-api/internal/service/invoice"
	"github.com/jwalitptl/billing-api/internal/service/stock"
	"github.com/jwalitptl/billing-api/pkg/auth"
	"github.com/jwalitptl/billing-api/pkg/keylock"
	"github.com/jwalitptl/billing-api/pkg/logger"
	"github.com/jwalitptl/billing-api/pkg/worker"
)

type App struct {
	Config *config.Config
	Logger *logger.Logger
	// DB is nil when the ledger lives in memory.
	DB     *sqlx.DB
	Ledger repository.Ledger

	Audit    *audit.Service
	Events   *event.Service
	Fees     *fee.Directory
	Dues     *dues.Service
	Stock    *stock.Service
	Invoices *invoice.Service
	Tokens   auth.JWTService
}

// New opens the configured ledger store and builds every service on top
// of it. Stock and invoice services share one lock table.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	if err := a.openLedger(ctx); err != nil {
		return nil, err
	}

	locks := keylock.New()

	a.Audit = audit.NewService(a.Ledger.Audit)
	a.Events = event.NewService(a.Ledger.Outbox)
	a.Fees = fee.NewDirectory(a.Ledger.Doctors, cfg.Billing.FeeCacheTTL)
	a.Dues = dues.NewService(a.Ledger.Visits, a.Ledger.Invoices, a.Ledger.Packages, a.Ledger.Inventory, a.Fees)
	a.Stock = stock.NewService(a.Ledger.Inventory, a.Ledger.Movements, a.Events, a.Audit, locks)
	a.Invoices = invoice.NewService(
		a.Ledger.Invoices,
		a.Ledger.Visits,
		a.Ledger.Packages,
		a.Dues,
		a.Stock,
		a.Events,
		a.Audit,
		locks,
		invoice.WithAlerts(a.alerts()),
	)
	a.Tokens = auth.NewJWTService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	return a, nil
}

func (a *App) openLedger(ctx context.Context) error {
	db := a.Config.Database

	var dsn string
	switch db.Driver {
	case "memory":
		a.Ledger = memory.NewStore().Ledger()
		a.Logger.Warn("using in-memory ledger; data is lost on restart")
		return nil
	case sqlstore.DriverPostgres:
		dsn = db.PostgresDSN()
	case sqlstore.DriverSQLite:
		dsn = db.DSN
	default:
		return fmt.Errorf("unsupported database driver %q", db.Driver)
	}

	conn, err := sqlstore.Open(ctx, db.Driver, dsn, sqlstore.Options{
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}

	if db.MigrateOnStart {
		if err := sqlstore.Migrate(ctx, conn); err != nil {
			conn.Close()
			return err
		}
	}

	a.DB = conn
	a.Ledger = sqlstore.NewLedger(conn)
	a.Logger.Info("ledger store opened", "driver", db.Driver)
	return nil
}

func (a *App) alerts() email.Service {
	if a.Config.Alerts.SMTPHost == "" {
		return email.NewNoopService()
	}
	return email.NewSMTPService(a.Config.Alerts.ToEmailConfig())
}

// Pinger returns the readiness probe target, or nil for the memory store.
func (a *App) Pinger() handler.Pinger {
	if a.DB == nil {
		return nil
	}
	return a.DB
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	r := router.NewRouter(
		middleware.NewAuthMiddleware(a.Tokens, a.Config.Auth.Enabled),
		handler.NewHandler(a.Pinger()),
		a.Config.ToRouterConfig(),
		billingHandler.NewHandler(a.Dues, a.Invoices),
		stockHandler.NewHandler(a.Stock),
		auditHandler.NewHandler(a.Audit),
	)
	return r.Setup()
}

// CleanupWorkers prune old audit logs and relayed outbox events.
func (a *App) CleanupWorkers() []*worker.CleanupWorker {
	retention := time.Duration(a.Config.Audit.RetentionDays) * 24 * time.Hour
	return []*worker.CleanupWorker{
		worker.NewCleanupWorker("audit_logs", a.Audit.Cleanup, retention, a.Config.Audit.CleanupInterval, a.Logger),
		worker.NewCleanupWorker("outbox_events", a.Events.CleanupProcessedEvents, a.Config.Outbox.Retention, a.Config.Audit.CleanupInterval, a.Logger),
	}
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
