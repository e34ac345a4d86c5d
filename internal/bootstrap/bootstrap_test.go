package bootstrap

import (
	"context"
	"testing"

	"gatekeeper/internal/config"
	"gatekeeper/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryRuntime(t *testing.T) {
	cfg := &config.Config{StoreDriver: DriverMemory, GateTimeoutMs: 500}
	rt, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Pool)
	assert.Nil(t, rt.SQL)
	assert.Nil(t, rt.DLQ)
	assert.NoError(t, rt.Ready(context.Background()))

	d := rt.Engine.CheckGate(context.Background(), "employer-1", model.GateContactUnlock, model.GateParams{})
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionCredits, d.Source)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: "sqlite"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown STORE_DRIVER")
}

func TestOpenPostgresNeedsConnectionString(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: DriverPostgres}, zerolog.Nop())
	assert.ErrorContains(t, err, "DB_CONNECTION_STRING")
}

func TestOpenRejectsBadRedisURL(t *testing.T) {
	cfg := &config.Config{StoreDriver: DriverMemory, RedisURL: "not-a-url://"}
	_, err := Open(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadSecretsWithoutProjectIsNoop(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, LoadSecrets(context.Background(), cfg, zerolog.Nop()))
	assert.Empty(t, cfg.StripeSecretKey)
}
