package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hearth/internal/audit"
	householdservice "hearth/internal/household/service"
	householdstore "hearth/internal/household/store"
	"hearth/internal/identity/match"
	identityservice "hearth/internal/identity/service"
	identitystore "hearth/internal/identity/store"
	"hearth/internal/ledger"
	"hearth/internal/platform/config"
	"hearth/internal/platform/database"
	"hearth/internal/platform/httpserver"
	"hearth/internal/platform/logger"
	"hearth/internal/platform/metrics"
	"hearth/internal/platform/redis"
	registrationservice "hearth/internal/registration/service"
	registrationstore "hearth/internal/registration/store"
	"hearth/internal/transaction"
	httpapi "hearth/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db  *sql.DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := database.ApplySchema(ctx, db); err != nil {
			log.Error("schema bootstrap failed", "error", err.Error())
			os.Exit(1)
		}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		people     identitystore.PersonStore
		households householdstore.Store
		regs       registrationstore.Store
		txns       transaction.Store
		entries    ledger.Store
		auditStore audit.Store
	)
	if db != nil {
		people = identitystore.NewPostgres(db)
		households = householdstore.NewPostgres(db)
		regs = registrationstore.NewPostgres(db)
		txns = transaction.NewPostgres(db)
		entries = ledger.NewPostgres(db)
		auditStore = audit.NewPostgresStore(db)
	} else {
		people = identitystore.NewInMemoryStore()
		households = householdstore.NewInMemoryStore()
		regs = registrationstore.NewInMemoryStore()
		txns = transaction.NewInMemoryStore()
		entries = ledger.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	m := metrics.New()
	publisher := audit.NewPublisher(auditStore)

	identities := identityservice.New(people, match.New(people),
		identityservice.WithLogger(log),
		identityservice.WithMetrics(m),
		identityservice.WithAuditPublisher(publisher),
	)

	// One guard per process keeps clustering rebuilds and ingestion's
	// household writes from interleaving.
	householdGuard := householdservice.NewGuard()

	pipeline := registrationservice.NewPipeline(regs, identities, people, households, txns,
		registrationservice.WithLogger(log),
		registrationservice.WithMetrics(m),
		registrationservice.WithAuditPublisher(publisher),
		registrationservice.WithHouseholdGuard(householdGuard),
	)

	clustererOpts := []householdservice.Option{
		householdservice.WithLogger(log),
		householdservice.WithMetrics(m),
		householdservice.WithAuditPublisher(publisher),
		householdservice.WithGuard(householdGuard),
	}
	if redisClient != nil {
		clustererOpts = append(clustererOpts, householdservice.WithLocker(redisClient))
	}
	clusterer := householdservice.NewClusterer(people, households, txns, clustererOpts...)

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithMetrics(m),
		ledger.WithAuditPublisher(publisher),
	}
	if db != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStoreTx(newLedgerPostgresTx(db)))
	}
	ledgerSvc := ledger.NewService(entries, people, households, txns, ledgerOpts...)

	handlerOpts := []httpapi.Option{}
	if db != nil {
		handlerOpts = append(handlerOpts, httpapi.WithHealthChecker(func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Health(ctx)
			}
			return nil
		}))
	}
	handler := httpapi.NewHandler(identities, pipeline, clusterer, ledgerSvc, log, handlerOpts...)

	srv := httpserver.New(cfg.Addr, handler.Router(cfg.AdminToken))

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}
