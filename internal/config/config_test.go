package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE", "EVENT_BUS", "INVENTORY_BACKEND", "KAFKA_BROKERS", "RESERVATION_TTL", "STOCK_TTL", "CONSUMER_GROUP", "COURIER"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, BusKafka, cfg.EventBus)
	assert.Equal(t, InventoryRedis, cfg.InventoryBackend)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Hour, cfg.ReservationTTL)
	assert.Equal(t, 24*time.Hour, cfg.StockTTL)
	assert.Equal(t, "delivery-svc", cfg.ConsumerGroup)
	assert.Equal(t, "JNE", cfg.Courier)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("EVENT_BUS", "NOOP")
	t.Setenv("INVENTORY_BACKEND", "unbounded")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RESERVATION_TTL", "15m")
	t.Setenv("SHIP_AFTER", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, BusNoop, cfg.EventBus)
	assert.Equal(t, InventoryUnbounded, cfg.InventoryBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 10*time.Second, cfg.ShipAfter)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE", "mongo")
	_, err := Load()
	assert.ErrorContains(t, err, "STORE must be")

	t.Setenv("STORE", "memory")
	t.Setenv("RESERVATION_TTL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "load config")
}

func TestValidate(t *testing.T) {
	ok := Config{
		Store:            StoreMemory,
		EventBus:         BusNoop,
		InventoryBackend: InventoryUnbounded,
		ReservationTTL:   time.Hour,
		StockTTL:         time.Hour,
	}
	require.NoError(t, ok.Validate())

	c := ok
	c.EventBus = BusKafka
	assert.ErrorContains(t, c.Validate(), "KAFKA_BROKERS")

	c = ok
	c.InventoryBackend = "memcached"
	assert.ErrorContains(t, c.Validate(), "INVENTORY_BACKEND")

	c = ok
	c.StockTTL = 0
	assert.ErrorContains(t, c.Validate(), "must be positive")
}
