/*
main.go - Standalone job worker

PURPOSE:
  Runs the polling job runner without the HTTP API. Deployments that scale
  billing throughput independently of request traffic run one API server
  plus N workers against the same database; the conditional claim in the
  job store keeps concurrent workers from double-processing.

ENVIRONMENT:
  Same variables as cmd/server. BILLING_KAFKA_BROKERS should normally be
  set here: notification redelivery jobs execute on workers.

SEE ALSO:
  - jobs/runner.go: The polling loop
  - cmd/server/main.go: The combined API + embedded worker process
*/
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.DBPath = *dbPath

	log := logging.Setup(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	var sink billing.Sink
	var kafkaSink *notify.Kafka
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		sink = kafkaSink
	} else {
		log.Warn("no Kafka brokers configured, notification redelivery jobs will be skipped")
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

	log.Info("worker started", slog.String("db", cfg.DBPath))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	runner.Stop()
	if kafkaSink != nil {
		kafkaSink.Close()
	}
	log.Info("worker stopped")
}
