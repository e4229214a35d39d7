package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryAddr = "0x1111111111111111111111111111111111111111"

func validConfig() Config {
	cfg := Default()
	cfg.Database.DSN = "postgres://localhost/registry"
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.Contracts.Registry = registryAddr
	cfg.Chain.Contracts.PoolFactory = "0x2222222222222222222222222222222222222222"
	return cfg
}

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.Chain.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Manifest.Timeout)
	assert.Equal(t, 10, cfg.Sync.ResyncBatchSize)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, "@every 1m", cfg.Sync.DiscoverySchedule)
	assert.Equal(t, LiquidityPool, cfg.Liquidity.Strategy)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc", func(c *Config) { c.Chain.RPCURL = "" }},
		{"bad registry", func(c *Config) { c.Chain.Contracts.Registry = "nope" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"template without verb", func(c *Config) { c.Manifest.URLTemplate = "https://x/manifest.json" }},
		{"pool without factory", func(c *Config) { c.Chain.Contracts.PoolFactory = "" }},
		{"aggregator without url", func(c *Config) { c.Liquidity.Strategy = LiquidityAggregator }},
		{"unknown strategy", func(c *Config) { c.Liquidity.Strategy = "oracle" }},
		{"zero batch", func(c *Config) { c.Sync.ResyncBatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateMemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = DriverMemory
	cfg.Database.DSN = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAppliesYAMLThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
server:
  port: 8080
database:
  driver: sqlite
  dsn: file:registry.db
chain:
  rpc_url: http://yaml-node:8545
  timeout: 3s
  contracts:
    registry: ` + registryAddr + `
liquidity:
  strategy: aggregator
  aggregator_url: https://dex.example/api
sync:
  resync_schedule: "@every 30s"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("BASE_JSON_RPC_URL", "http://env-node:8545")
	t.Setenv("REGISTRY_BATCH_READS", "true")
	t.Setenv("MANIFEST_TIMEOUT", "2s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "http://env-node:8545", cfg.Chain.RPCURL)
	assert.Equal(t, 3*time.Second, cfg.Chain.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Manifest.Timeout)
	assert.True(t, cfg.Sync.BatchReads)
	assert.Equal(t, "@every 30s", cfg.Sync.ResyncSchedule)
	assert.Equal(t, "@every 1m", cfg.Sync.MetricsSchedule)
	assert.Equal(t, LiquidityAggregator, cfg.Liquidity.Strategy)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestOrigins(t *testing.T) {
	s := ServerConfig{AllowedOrigins: " https://a.example, ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.Origins())
	assert.Empty(t, ServerConfig{}.Origins())
	assert.Equal(t, ":3000", ServerConfig{Port: 3000}.Addr())
}
