/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the utility billing engine: SQLite store, lifecycle
  manager, in-process job runner, and the HTTP API, with graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration
  2. Initialize SQLite store (optionally seed default tariffs)
  3. Wire the Kafka sink if brokers are configured
  4. Build the lifecycle manager and register job handlers
  5. Start the job runner and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the job runner (waits for the in-flight job)
  4. Close the Kafka writer and database
  5. Exit

ENVIRONMENT:
  BILLING_HTTP_BIND           listen address (default :8080)
  BILLING_DB_PATH             SQLite path, ":memory:" for ephemeral
  BILLING_SEED_TARIFFS        load default slab schedules on startup
  BILLING_KAFKA_BROKERS       comma-separated; empty disables notifications
  BILLING_KAFKA_TOPIC         bill event topic (default billing.events)
  BILLING_GRACE_PERIOD_DAYS   payment grace window (default 15)
  BILLING_FIRST_LOOKBACK_DAYS first-bill period fallback (default 30)
  BILLING_POLL_INTERVAL       job queue poll cadence (default 5s)
  BILLING_LOG_LEVEL           debug, info, warn, error

SEE ALSO:
  - api/server.go: Router configuration
  - jobs/runner.go: The polling worker embedded in this process
  - cmd/worker/main.go: Standalone worker for scaled-out deployments
*/
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridworks/billing-engine/api"
	"github.com/gridworks/billing-engine/billing"
	"github.com/gridworks/billing-engine/config"
	"github.com/gridworks/billing-engine/jobs"
	"github.com/gridworks/billing-engine/notify"
	"github.com/gridworks/billing-engine/pkg/logging"
	"github.com/gridworks/billing-engine/services"
	"github.com/gridworks/billing-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	bind := flag.String("bind", cfg.HTTPBind, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.HTTPBind = *bind
	cfg.DBPath = *dbPath

	log := logging.Setup(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if cfg.SeedTariffs {
		if err := services.Seed(context.Background(), store); err != nil {
			log.Error("failed to seed tariff schedules", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("seeded default tariff schedules")
	}

	var sink billing.Sink
	var kafkaSink *notify.Kafka
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		sink = kafkaSink
		log.Info("notification sink enabled",
			slog.Any("brokers", cfg.KafkaBrokers), slog.String("topic", cfg.KafkaTopic))
	} else {
		log.Warn("no Kafka brokers configured, bill notifications disabled")
	}

	manager := billing.NewManager(store, sink, services.All(), billing.Config{
		GracePeriod:         time.Duration(cfg.GracePeriodDays) * 24 * time.Hour,
		FirstPeriodLookback: time.Duration(cfg.FirstLookbackDays) * 24 * time.Hour,
	}, log)

	runner := jobs.NewRunner(store, log)
	runner.PollInterval = cfg.PollInterval
	runner.BackoffBase = cfg.BackoffBase
	runner.BackoffMax = cfg.BackoffMax
	runner.StaleAfter = cfg.StaleClaimAfter
	jobs.RegisterBillingHandlers(runner, manager, log)
	runner.Start()

	router := api.NewRouter(api.NewHandler(manager, log))
	server := &http.Server{
		Addr:         cfg.HTTPBind,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", slog.String("addr", cfg.HTTPBind))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", slog.Any("error", err))
	}

	runner.Stop()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn("kafka writer close failed", slog.Any("error", err))
		}
	}

	log.Info("server stopped")
}
