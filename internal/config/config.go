// Package config loads service configuration from an optional .env file, an
// optional YAML file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/farstore/registry-sync/internal/chain"
	"github.com/farstore/registry-sync/pkg/logger"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Liquidity strategies.
const (
	LiquidityPool       = "pool"
	LiquidityAggregator = "aggregator"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Chain     ChainConfig          `yaml:"chain"`
	Manifest  ManifestConfig       `yaml:"manifest"`
	Liquidity LiquidityConfig      `yaml:"liquidity"`
	Sync      SyncConfig           `yaml:"sync"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP read path.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// AllowedOrigins is a comma separated list; empty reflects every origin.
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimit      int    `yaml:"rate_limit" env:"PRIVATE_RATE_LIMIT"`
	AuditLogPath   string `yaml:"audit_log_path" env:"AUDIT_LOG_PATH"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	Driver      string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN         string `yaml:"dsn" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
	MaxOpen     int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
}

// ChainConfig configures ledger access.
type ChainConfig struct {
	RPCURL            string                  `yaml:"rpc_url" env:"BASE_JSON_RPC_URL"`
	Timeout           time.Duration           `yaml:"timeout" env:"CHAIN_TIMEOUT"`
	MaxRetries        int                     `yaml:"max_retries" env:"CHAIN_MAX_RETRIES"`
	RequestsPerSecond float64                 `yaml:"requests_per_second" env:"CHAIN_REQUESTS_PER_SECOND"`
	Contracts         chain.ContractAddresses `yaml:"contracts"`
}

// ManifestConfig configures manifest fetching.
type ManifestConfig struct {
	URLTemplate  string        `yaml:"url_template" env:"MANIFEST_URL_TEMPLATE"`
	Timeout      time.Duration `yaml:"timeout" env:"MANIFEST_TIMEOUT"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"MANIFEST_MAX_BODY_BYTES"`
	UserAgent    string        `yaml:"user_agent" env:"MANIFEST_USER_AGENT"`
}

// LiquidityConfig selects how token liquidity is measured.
type LiquidityConfig struct {
	Strategy       string        `yaml:"strategy" env:"LIQUIDITY_STRATEGY"`
	AggregatorURL  string        `yaml:"aggregator_url" env:"AGGREGATOR_URL"`
	ReferenceAsset string        `yaml:"reference_asset" env:"LIQUIDITY_REFERENCE_ASSET"`
	FeeTier        uint32        `yaml:"fee_tier" env:"LIQUIDITY_FEE_TIER"`
	Timeout        time.Duration `yaml:"timeout" env:"AGGREGATOR_TIMEOUT"`
}

// SyncConfig tunes the background tasks.
type SyncConfig struct {
	ResyncBatchSize    int           `yaml:"resync_batch_size" env:"SYNC_RESYNC_BATCH_SIZE"`
	BatchReads         bool          `yaml:"batch_reads" env:"REGISTRY_BATCH_READS"`
	PageSize           int           `yaml:"page_size" env:"REGISTRY_PAGE_SIZE"`
	RunTimeout         time.Duration `yaml:"run_timeout" env:"SYNC_RUN_TIMEOUT"`
	DiscoverySchedule  string        `yaml:"discovery_schedule" env:"SYNC_DISCOVERY_SCHEDULE"`
	ResyncSchedule     string        `yaml:"resync_schedule" env:"SYNC_RESYNC_SCHEDULE"`
	MetricsSchedule    string        `yaml:"metrics_schedule" env:"SYNC_METRICS_SCHEDULE"`
	APIKeysSchedule    string        `yaml:"apikeys_schedule" env:"SYNC_APIKEYS_SCHEDULE"`
	BootstrapOnStartup bool          `yaml:"bootstrap_on_startup" env:"SYNC_BOOTSTRAP"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       20,
		},
		Database: DatabaseConfig{
			Driver:      DriverPostgres,
			AutoMigrate: true,
			MaxOpen:     10,
		},
		Chain: ChainConfig{
			Timeout:    8 * time.Second,
			MaxRetries: 2,
		},
		Manifest: ManifestConfig{
			URLTemplate:  "https://%s/.well-known/farcaster.json",
			Timeout:      5 * time.Second,
			MaxBodyBytes: 1 << 20,
			UserAgent:    "registry-sync/1.0",
		},
		Liquidity: LiquidityConfig{
			Strategy: LiquidityPool,
			Timeout:  10 * time.Second,
		},
		Sync: SyncConfig{
			ResyncBatchSize:    10,
			PageSize:           50,
			RunTimeout:         5 * time.Minute,
			DiscoverySchedule:  "@every 1m",
			ResyncSchedule:     "@every 1m",
			MetricsSchedule:    "@every 1m",
			APIKeysSchedule:    "@every 1m",
			BootstrapOnStartup: true,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env (if present), then the YAML file at path, or the one named
// by CONFIG_FILE when path is empty, then environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	return LoadFile(path)
}

// LoadFile applies the YAML file at path (skipped when empty) and the
// environment over the defaults, then validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required fields and enumerations.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			problems = append(problems, "DATABASE_URL is required")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		problems = append(problems, "BASE_JSON_RPC_URL is required")
	}
	if err := c.Chain.Contracts.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if !strings.Contains(c.Manifest.URLTemplate, "%s") {
		problems = append(problems, "manifest url template must contain %s")
	}
	switch c.Liquidity.Strategy {
	case LiquidityPool:
		if c.Chain.Contracts.PoolFactory == "" {
			problems = append(problems, "POOL_FACTORY_CONTRACT is required for the pool liquidity strategy")
		}
	case LiquidityAggregator:
		if strings.TrimSpace(c.Liquidity.AggregatorURL) == "" {
			problems = append(problems, "AGGREGATOR_URL is required for the aggregator liquidity strategy")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown liquidity strategy %q", c.Liquidity.Strategy))
	}
	if c.Sync.ResyncBatchSize <= 0 {
		problems = append(problems, "resync batch size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Origins splits the configured CORS origins.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
