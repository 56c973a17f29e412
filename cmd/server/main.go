package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"merenda/internal/audit"
	"merenda/internal/batch"
	"merenda/internal/necessity/handler"
	"merenda/internal/necessity/metrics"
	"merenda/internal/necessity/service"
	"merenda/internal/necessity/store"
	"merenda/internal/platform/config"
	"merenda/internal/platform/httpserver"
	"merenda/internal/platform/logger"
	"merenda/internal/platform/postgres"
	"merenda/internal/platform/redis"
	"merenda/internal/substitution"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	lines := store.NewPostgres(db)

	// Redis is optional; without it the catalog is queried directly.
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var catalog substitution.Catalog = substitution.NewHTTPCatalog(cfg.Catalog)
	if redisClient != nil {
		catalog = substitution.NewCachedCatalog(catalog, redisClient, cfg.Redis.CacheTTL, log)
	}

	// Audit events flow through a buffered publisher into Kafka, or into the
	// in-process store when no brokers are configured.
	var auditStore audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaStore, err := audit.NewKafkaStore(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer kafkaStore.Close()
		auditStore = kafkaStore
	} else {
		log.Warn("no kafka brokers configured, audit events stay in memory")
		auditStore = audit.NewMemoryStore()
	}
	publisher := audit.NewChannelPublisher(1024, log)
	worker := audit.NewWorker(auditStore, publisher.Inbox(), log)

	m := metrics.New()
	necessityOpts := []service.Option{
		service.WithAuditPublisher(publisher),
		service.WithMetrics(m),
	}
	if cfg.Directory.BaseURL != "" {
		necessityOpts = append(necessityOpts, service.WithDirectory(service.NewHTTPDirectory(cfg.Directory)))
	}
	necessity := service.New(lines, log, necessityOpts...)
	substitutions := substitution.NewService(lines, catalog, log,
		substitution.WithAuditPublisher(publisher),
		substitution.WithMetrics(m),
	)

	var pacer batch.Pacer
	if cfg.Batch.ItemDelay > 0 {
		pacer = batch.NewFixedDelay(cfg.Batch.ItemDelay)
	}

	router := chi.NewRouter()
	handler.New(necessity, substitutions, log, pacer).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("starting merenda", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("merenda stopped")
}
