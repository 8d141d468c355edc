package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bankwatch/types"
)

func TestReadConfigDefaults(t *testing.T) {
	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, ""))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Cache.Ttl)
	assert.Equal(t, uint64(5), cfg.Cache.BlockGrace)
	assert.Equal(t, uint64(3), cfg.Storage.Stride)
	assert.Equal(t, uint(64), cfg.Storage.StartTimeBits)
	assert.Equal(t, 24*time.Hour, cfg.Permits.Ttl)
	assert.False(t, cfg.Permits.Enabled)
}

func TestReadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
executionapi:
  endpoint: "http://node:8545"
  headers:
    Authorization: "Bearer abc"
bank:
  bankContract: "0x8b1f7b359590b375deee61878c2238b8f003325e"
cache:
  ttl: 1m
permits:
  enabled: true
`), 0o600))

	t.Setenv("CACHE_BLOCK_GRACE", "9")

	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, path))

	assert.Equal(t, "http://node:8545", cfg.ExecutionApi.Endpoint)
	assert.Equal(t, "Bearer abc", cfg.ExecutionApi.Headers["Authorization"])
	assert.Equal(t, time.Minute, cfg.Cache.Ttl)
	assert.Equal(t, uint64(9), cfg.Cache.BlockGrace)
	assert.True(t, cfg.Permits.Enabled)

	// untouched sections keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Cache.CallTimeout)
	assert.Equal(t, uint64(10000), cfg.Bank.EventWindow)

	assert.NoError(t, cfg.Validate())
}

func TestReadConfigZeroOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  ownerWord: 2
  startTimeWord: 0
  amountWord: 1
cache:
  localCacheSize: 0
`), 0o600))

	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, path))

	assert.Equal(t, uint64(2), cfg.Storage.OwnerWord)
	assert.Equal(t, uint64(0), cfg.Storage.StartTimeWord)
	assert.Equal(t, uint64(1), cfg.Storage.AmountWord)
	assert.Equal(t, 0, cfg.Cache.LocalCacheSize)

	// settings missing from the file keep their defaults
	assert.Equal(t, uint64(3), cfg.Storage.Stride)
	assert.Equal(t, uint(64), cfg.Storage.StartTimeBits)
}

func TestReadConfigMissingFile(t *testing.T) {
	err := ReadConfig(&types.Config{}, filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, ""))

	assert.ErrorContains(t, cfg.Validate(), "bank contract")

	cfg.Bank.BankContract = "0x8b1f7b359590b375deee61878c2238b8f003325e"
	assert.NoError(t, cfg.Validate())

	cfg.Bank.TokenFilter = "nope"
	assert.ErrorContains(t, cfg.Validate(), "token filter")
}

func TestReadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  tll: 1m
`), 0o600))

	err := ReadConfig(&types.Config{}, path)
	assert.ErrorContains(t, err, "tll")
}

func TestReadConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg := &types.Config{}
	require.NoError(t, ReadConfig(cfg, path))
	assert.Equal(t, "8080", cfg.Server.Port)
}
