package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mosala-finance/mosala/internal/config"
	"github.com/mosala-finance/mosala/internal/eligibility"
	"github.com/mosala-finance/mosala/internal/events"
	"github.com/mosala-finance/mosala/internal/ledger"
	"github.com/mosala-finance/mosala/internal/loan"
	"github.com/mosala-finance/mosala/internal/middleware"
	"github.com/mosala-finance/mosala/internal/saga"
	"github.com/mosala-finance/mosala/internal/schedule"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Runtime exposes the long-running components main drives after route wiring:
// crash recovery, the overdue sweep and the reconciliation loop.
type Runtime struct {
	Coordinator *saga.Coordinator
	Scheduler   *schedule.Service
}

// Setup configures middlewares and all application routes, and returns the
// background runtime.
func Setup(app *fiber.App, d Deps) (*Runtime, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Identity())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	// Mutating routes replay through Redis when a cache is configured; the
	// stores enforce idempotency regardless.
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	// Stores: Postgres in real deployments, in-memory in dev.
	var ledgerStore ledger.Store
	var loanRepo loan.Repository
	var scheduleRepo schedule.Repository
	var sagaRepo saga.Repository
	if d.DB != nil {
		ledgerStore = ledger.NewPostgresStore(d.DB)
		loanRepo = loan.NewPostgresRepository(d.DB)
		scheduleRepo = schedule.NewPostgresRepository(d.DB)
		sagaRepo = saga.NewPostgresRepository(d.DB)
	} else {
		ledgerStore = ledger.NewInMemoryStore()
		loanRepo = loan.NewMemoryRepository()
		scheduleRepo = schedule.NewMemoryRepository()
		sagaRepo = saga.NewMemoryRepository()
	}

	publisher := d.Publisher
	if publisher == nil {
		publisher = events.NewLoggerPublisher(d.Logger)
	}

	ledgerSvc := ledger.NewService(ledgerStore, d.Cfg.LedgerRetryLimit)
	policy := eligibility.Policy{
		Multiplier:     d.Cfg.EligibilityMultiplier,
		TrailingWindow: time.Duration(d.Cfg.EligibilityWindowDays) * 24 * time.Hour,
	}
	loanSvc := loan.NewService(loanRepo, ledgerSvc, policy)
	scheduleSvc := schedule.NewService(scheduleRepo, loanSvc, d.Cfg.DefaultThreshold, d.Logger)
	loanSvc.SetOutstandingProvider(scheduleSvc.Outstanding)
	coordinator := saga.NewCoordinator(sagaRepo, ledgerSvc, loanSvc, scheduleSvc, publisher, d.Cfg.SagaStepTimeout, d.Logger)

	ledgerHandler := ledger.NewHandler(ledgerSvc)
	loanHandler := loan.NewHandler(loanSvc)
	scheduleHandler := schedule.NewHandler(scheduleSvc)
	sagaHandler := saga.NewHandler(coordinator)

	api := app.Group("/api/v1")

	RegisterAccountRoutes(api, ledgerHandler)
	RegisterLoanRoutes(api, loanHandler, scheduleHandler)
	RegisterSagaRoutes(api, sagaHandler)

	return &Runtime{Coordinator: coordinator, Scheduler: scheduleSvc}, nil
}
