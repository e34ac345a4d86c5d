package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("GATE_TIMEOUT_MS", "2000")
	t.Setenv("LIFECYCLE_QUEUE_NAME", "lifecycle_events")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "lifecycle_events", cfg.LifecycleQueueName)
	assert.Equal(t, 2*time.Second, cfg.GateTimeout())
}

func TestGetGCPProjectID(t *testing.T) {
	cfg := &Config{PubSubEmulatorHost: "localhost:8085"}
	assert.Equal(t, "local-project", cfg.GetGCPProjectID())

	cfg.GCPProjectID = "prod"
	assert.Equal(t, "prod", cfg.GetGCPProjectID())
}
