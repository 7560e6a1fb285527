package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitstudio/internal/fulfillment"
	"portraitstudio/internal/infra"
)

func baseConfig(t *testing.T) *infra.Config {
	return &infra.Config{
		AppEnv:          "test",
		StorageBackend:  "fs",
		StoragePath:     t.TempDir(),
		StorageBaseURL:  "http://localhost:8080/static",
		RegistryBackend: "memory",
		GenerationDelay: time.Millisecond,
		MaxDimension:    512,
		OutputSize:      128,
		CheckoutMode:    "mock",
	}
}

func TestBuildMemoryFilesystemMock(t *testing.T) {
	cfg := baseConfig(t)
	svc, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, cfg.StoragePath, svc.StaticDir)
	assert.False(t, svc.Synthesizer.HasGenerator())
	assert.Equal(t, fulfillment.ModeMock, svc.Fulfillment.Mode())
	assert.True(t, svc.Store.Configured())
}

func TestBuildRedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.RegistryBackend = "redis"
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisPrefix = "ps:"

	svc, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	ok, err := svc.Metadata.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildStripeNeedsKeys(t *testing.T) {
	cfg := baseConfig(t)
	cfg.CheckoutMode = "stripe"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)

	cfg.StripeSecretKey = "sk_test_123"
	cfg.StripeWebhookSecret = "whsec_123"
	svc, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, fulfillment.ModeStripe, svc.Fulfillment.Mode())
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	cfg := baseConfig(t)
	cfg.StorageBackend = "ftp"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)

	cfg = baseConfig(t)
	cfg.RegistryBackend = "etcd"
	_, err = Build(context.Background(), cfg, infra.NewLogger("test"))
	require.Error(t, err)
}
