package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff(t *testing.T) {
	cfg := &DispatchConfig{RetryBaseDelay: 5, RetryMaxDelay: 120}

	assert.Equal(t, 5*time.Second, cfg.RetryBackoff(0))
	assert.Equal(t, 10*time.Second, cfg.RetryBackoff(1))
	assert.Equal(t, 20*time.Second, cfg.RetryBackoff(2))
	assert.Equal(t, 40*time.Second, cfg.RetryBackoff(3))
	assert.Equal(t, 80*time.Second, cfg.RetryBackoff(4))

	// Потолок задержки
	assert.Equal(t, 120*time.Second, cfg.RetryBackoff(5))
	assert.Equal(t, 120*time.Second, cfg.RetryBackoff(10))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Kafka.MaxAttempts)

	assert.Equal(t, 10.0, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 300, cfg.Dispatch.PendingTimeout)
	assert.Equal(t, 60, cfg.Dispatch.DriverTTL)

	assert.Equal(t, 100.0, cfg.Tracking.GeofenceRadiusM)
	assert.Equal(t, 100, cfg.Tracking.HistoryLimit)
	assert.Equal(t, 30.0, cfg.Tracking.AssumedSpeedKmh)

	assert.Equal(t, 23, cfg.Routing.MaxWaypoints)
	assert.Equal(t, 10, cfg.Routing.OptimizeLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DISPATCH_SEARCH_RADIUS_KM", "7.5")
	t.Setenv("DISPATCH_MAX_RETRIES", "2")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg := Load()

	assert.Equal(t, 7.5, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 2, cfg.Dispatch.MaxRetries)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}
