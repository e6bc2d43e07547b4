/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One flat struct covering both processes (API server and worker). Every
  knob has a sane default so a bare `go run ./cmd/server` works against a
  local SQLite file with notifications disabled; deployments override via
  environment variables.

KAFKA:
  BILLING_KAFKA_BROKERS empty means "no notification transport": the server
  runs with a nil sink and bill events are logged only. Set brokers and
  topic to enable publishing.

SEE ALSO:
  - cmd/server/main.go, cmd/worker/main.go: The consumers of this struct
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable for the billing engine processes.
type Config struct {
	HTTPBind string // address:port for the HTTP server
	DBPath   string // SQLite database file (":memory:" for ephemeral)
	LogLevel string // debug, info, warn, error

	SeedTariffs bool // load the default slab schedules on startup

	KafkaBrokers []string // bootstrap servers; empty disables notifications
	KafkaTopic   string   // bill event topic

	GracePeriodDays    int // billDate -> dueDate
	FirstLookbackDays  int // periodFrom fallback for a connection's first bill
	PollInterval       time.Duration
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	StaleClaimAfter    time.Duration
}

// Load reads the environment, applying defaults for anything unset.
func Load() Config {
	return Config{
		HTTPBind: getEnv("BILLING_HTTP_BIND", ":8080"),
		DBPath:   getEnv("BILLING_DB_PATH", "./billing.db"),
		LogLevel: getEnv("BILLING_LOG_LEVEL", "info"),

		SeedTariffs: getEnvBool("BILLING_SEED_TARIFFS", false),

		KafkaBrokers: splitAndTrim(os.Getenv("BILLING_KAFKA_BROKERS"), ","),
		KafkaTopic:   getEnv("BILLING_KAFKA_TOPIC", "billing.events"),

		GracePeriodDays:   getEnvInt("BILLING_GRACE_PERIOD_DAYS", 15),
		FirstLookbackDays: getEnvInt("BILLING_FIRST_LOOKBACK_DAYS", 30),
		PollInterval:      getEnvDuration("BILLING_POLL_INTERVAL", 5*time.Second),
		BackoffBase:       getEnvDuration("BILLING_BACKOFF_BASE", 30*time.Second),
		BackoffMax:        getEnvDuration("BILLING_BACKOFF_MAX", 15*time.Minute),
		StaleClaimAfter:   getEnvDuration("BILLING_STALE_CLAIM_AFTER", 10*time.Minute),
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
