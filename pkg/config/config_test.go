package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "SE3", c.Region.Name)
	assert.Equal(t, "10Y1001A1001A46L", c.Region.BiddingZone)
	assert.Len(t, c.Region.Locations, 4)
	assert.Equal(t, 3, c.Retry.MaxAttempts)
	assert.Equal(t, 4*time.Second, c.Retry.InitialBackoff)
	assert.Equal(t, "drop", c.Cleaning.Bounds["price"].Action)
	assert.Equal(t, "Europe/Stockholm", c.Location().String())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, c.Location()), c.BackfillStart())
	assert.Error(t, c.RequireMarketKey())
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"weights":     "region:\n  locations:\n    - {name: A, lat: 59, lon: 18, weight: 0.5}\n",
		"duplicate":   "region:\n  locations:\n    - {name: A, lat: 59, lon: 18, weight: 0.5}\n    - {name: A, lat: 58, lon: 16, weight: 0.5}\n",
		"holiday":     "region:\n  holidays: [\"2024-12-24\"]\n",
		"timezone":    "region:\n  timezone: Mars/Olympus\n",
		"splits":      "training:\n  train_ratio: 0.9\n  validation_ratio: 0.1\n",
		"backoff":     "retry:\n  initial_backoff: 20s\n  max_backoff: 10s\n",
		"kafka":       "kafka:\n  enabled: true\n",
		"compression": "kafka:\n  compression: brotli\n",
		"log level":   "log:\n  level: loud\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clickhouse:\n  host: ch\n"), 0o600))

	t.Setenv("ENTSOE_API_KEY", "token")
	t.Setenv("CLICKHOUSE_PORT", "9440")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.NoError(t, c.RequireMarketKey())
	assert.Equal(t, "ch", c.ClickHouse.Host)
	assert.Equal(t, 9440, c.ClickHouse.Port)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestSampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "se3.logs", c.Kafka.LogsTopic)
	assert.Len(t, c.Region.Locations, 4)
}
