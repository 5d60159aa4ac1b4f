package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"aegis/internal/audit"
	auditmetrics "aegis/internal/audit/metrics"
	"aegis/internal/audit/publisher"
	"aegis/internal/audit/query"
	auditmemory "aegis/internal/audit/store/memory"
	auditpostgres "aegis/internal/audit/store/postgres"
	"aegis/internal/authz"
	"aegis/internal/authz/cache"
	authzmetrics "aegis/internal/authz/metrics"
	"aegis/internal/catalog"
	"aegis/internal/guard"
	guardmetrics "aegis/internal/guard/metrics"
	"aegis/internal/platform/config"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/postgres"
	platformredis "aegis/internal/platform/redis"
	"aegis/internal/rbac"
	rbacstore "aegis/internal/rbac/store"
	"aegis/internal/tenantctx"
	httptransport "aegis/internal/transport/http"
	"aegis/pkg/platform/middleware/auth"
)

// main wires dependencies and runs the server plus background workers.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		roleStore  rbac.Store
		auditStore audit.Store
		health     httptransport.HealthChecker
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.RunMigrations(db); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		roleStore = rbacstore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
		health = db.Ping
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		roleStore = rbacstore.NewInMemory()
		auditStore = auditmemory.New()
	}

	cat := catalog.Default()

	// Decision cache: Redis when configured, process-local otherwise.
	var decisionCache authz.DecisionCache = cache.NewMemory()
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		decisionCache = cache.NewRedis(redisClient.Client, cache.WithLogger(log))
	}

	auditMetrics := auditmetrics.New()

	resolver := authz.New(cat, roleStore,
		authz.WithCache(decisionCache),
		authz.WithMetrics(authzmetrics.New()),
	)
	recorder := audit.NewRecorder(auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(auditMetrics),
		audit.WithTimeout(cfg.AuditWriteTimeout),
	)
	g := guard.New(resolver, recorder,
		guard.WithLogger(log),
		guard.WithMetrics(guardmetrics.New()),
	)
	tenants := tenantctx.New(roleStore, tenantctx.WithLogger(log))
	queries := query.New(auditStore, g)

	handler := httptransport.New(tenants, g, queries, roleStore, cat, log)
	validator := auth.NewJWTValidator(cfg.JWTSigningKey)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, validator, health))

	group, runCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting aegis", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Stale scanner keeps abandoned pending entries from lingering.
	scanner := audit.NewScanner(auditStore, cfg.PendingWindow, cfg.StaleScanInterval, log, auditMetrics)
	group.Go(func() error {
		if err := scanner.Run(runCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Kafka fan-out only when brokers are configured.
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := publisher.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka sink setup failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()

		worker := publisher.NewWorker(auditStore, sink,
			publisher.WithLogger(log),
			publisher.WithMetrics(auditMetrics),
		)
		group.Go(func() error {
			if err := worker.Run(runCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
