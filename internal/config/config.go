package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tariff-cli/internal/completeness"
	"github.com/sells-group/tariff-cli/internal/registry"
	"github.com/sells-group/tariff-cli/internal/resilience"
	"github.com/sells-group/tariff-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig            `yaml:"store" mapstructure:"store"`
	Server       ServerConfig           `yaml:"server" mapstructure:"server"`
	Log          LogConfig              `yaml:"log" mapstructure:"log"`
	Completeness completeness.Config    `yaml:"completeness" mapstructure:"completeness"`
	Registry     RegistryConfig         `yaml:"registry" mapstructure:"registry"`
	Score        ScoreConfig            `yaml:"score" mapstructure:"score"`
	Retry        resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	Monitoring   MonitoringConfig       `yaml:"monitoring" mapstructure:"monitoring"`
	Ingest       IngestConfig           `yaml:"ingest" mapstructure:"ingest"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// RateLimit is the sustained requests per second allowed per client.
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst           int           `yaml:"burst" mapstructure:"burst"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RegistryConfig configures confidence classification.
type RegistryConfig struct {
	Thresholds registry.Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
	// UtilitiesPath is an optional JSON file of registered utilities.
	UtilitiesPath string `yaml:"utilities_path" mapstructure:"utilities_path"`
}

// ScoreConfig configures batch scoring.
type ScoreConfig struct {
	GroupBy     string `yaml:"group_by" mapstructure:"group_by"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// IngestConfig configures downloads of record files given as URLs.
type IngestConfig struct {
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	// RateLimit is requests per second per host.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures completeness regression alerts over saved
// snapshots.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// LookbackSnapshots caps how many recent snapshots one check scans.
	LookbackSnapshots int `yaml:"lookback_snapshots" mapstructure:"lookback_snapshots"`
	// OverallDropThreshold is the fall in overall score between a
	// partition's two latest snapshots that raises an alert.
	OverallDropThreshold float64 `yaml:"overall_drop_threshold" mapstructure:"overall_drop_threshold"`
	// StubShareThreshold is the share of partitions classified stub that
	// raises an alert.
	StubShareThreshold float64 `yaml:"stub_share_threshold" mapstructure:"stub_share_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TARIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	def := registry.DefaultThresholds()
	retry := resilience.DefaultRetryConfig()
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("completeness.inferred_credit", 0.0)
	v.SetDefault("completeness.untagged_source", "")
	v.SetDefault("registry.thresholds.authoritative", def.Authoritative)
	v.SetDefault("registry.thresholds.partial", def.Partial)
	v.SetDefault("registry.thresholds.field_floor", def.FieldFloor)
	v.SetDefault("registry.utilities_path", "")
	v.SetDefault("score.group_by", "none")
	v.SetDefault("score.concurrency", 4)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", retry.InitialBackoff.String())
	v.SetDefault("retry.max_backoff", retry.MaxBackoff.String())
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.jitter_fraction", retry.JitterFraction)
	v.SetDefault("ingest.user_agent", "tariff-cli/1.0")
	v.SetDefault("ingest.timeout", "60s")
	v.SetDefault("ingest.max_bytes", 64<<20)
	v.SetDefault("ingest.rate_limit", 2.0)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_snapshots", 1000)
	v.SetDefault("monitoring.overall_drop_threshold", 0.10)
	v.SetDefault("monitoring.stub_share_threshold", 0.50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present. Mode is
// the command name; "store" is shorthand for any store-backed command.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "score", "serve":
		if err := c.Completeness.Validate(); err != nil {
			return eris.Wrap(err, "config: completeness")
		}
		if _, err := completeness.ParseGroupBy(c.Score.GroupBy); err != nil {
			return eris.Wrap(err, "config: score.group_by")
		}
		if err := c.Registry.Thresholds.Validate(); err != nil {
			return eris.Wrap(err, "config: registry.thresholds")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			missing = append(missing, "server.port")
		}
	case "store", "migrate", "import", "snapshots":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url (TARIFF_STORE_DATABASE_URL)")
		}
		switch strings.ToLower(c.Store.Driver) {
		case store.DriverPostgres, store.DriverSQLite:
		default:
			return eris.Errorf("config: unsupported store.driver %q", c.Store.Driver)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
