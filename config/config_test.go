package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPBind)
	assert.Equal(t, "./billing.db", cfg.DBPath)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 15, cfg.GracePeriodDays)
	assert.Equal(t, 30, cfg.FirstLookbackDays)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.StaleClaimAfter)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BILLING_HTTP_BIND", ":9090")
	t.Setenv("BILLING_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BILLING_GRACE_PERIOD_DAYS", "7")
	t.Setenv("BILLING_POLL_INTERVAL", "250ms")
	t.Setenv("BILLING_SEED_TARIFFS", "true")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTPBind)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 7, cfg.GracePeriodDays)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.SeedTariffs)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BILLING_GRACE_PERIOD_DAYS", "soon")
	t.Setenv("BILLING_POLL_INTERVAL", "whenever")

	cfg := Load()

	assert.Equal(t, 15, cfg.GracePeriodDays)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}
