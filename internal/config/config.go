package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seoworks/indexer-cli/internal/credential"
	"github.com/seoworks/indexer-cli/internal/probe"
	"github.com/seoworks/indexer-cli/internal/store"
	"github.com/seoworks/indexer-cli/pkg/indexing"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Probe       ProbeConfig       `yaml:"probe" mapstructure:"probe"`
	Submit      SubmitConfig      `yaml:"submit" mapstructure:"submit"`
	Sink        SinkConfig        `yaml:"sink" mapstructure:"sink"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the audit store backend. DatabaseURL is the
// sqlite file path or the postgres connection string, depending on Driver.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CredentialsConfig locates the service account keys and their quotas.
type CredentialsConfig struct {
	KeyFiles    []string `yaml:"key_files" mapstructure:"key_files"`
	Manifest    string   `yaml:"manifest" mapstructure:"manifest"`
	QuotaPerKey int      `yaml:"quota_per_key" mapstructure:"quota_per_key"`
}

// ProbeConfig configures the reachability checks.
type ProbeConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// SubmitConfig configures Indexing API submission.
type SubmitConfig struct {
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SinkConfig configures where per-domain reports are written.
type SinkConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the reporting API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QuotaBudget          int     `yaml:"quota_budget" mapstructure:"quota_budget"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "indexer.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("credentials.quota_per_key", credential.DefaultQuota)
	v.SetDefault("probe.timeout_secs", 30)
	v.SetDefault("probe.user_agent", probe.DefaultUserAgent)
	v.SetDefault("probe.max_retries", 3)
	v.SetDefault("probe.rate_per_sec", 2)
	v.SetDefault("probe.burst", 1)
	v.SetDefault("submit.endpoint", indexing.DefaultBaseURL)
	v.SetDefault("submit.rate_per_sec", 10)
	v.SetDefault("submit.timeout_secs", 30)
	v.SetDefault("sink.dir", "reports")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command actually depends on. mode is the
// command family: submit, check, runs or serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "submit":
		if len(c.Credentials.KeyFiles) == 0 && c.Credentials.Manifest == "" {
			problems = append(problems, "credentials.key_files or credentials.manifest is required")
		}
		if c.Credentials.QuotaPerKey <= 0 {
			problems = append(problems, "credentials.quota_per_key must be > 0")
		}
		if c.Submit.RatePerSec <= 0 {
			problems = append(problems, "submit.rate_per_sec must be > 0")
		}
		if c.Sink.Dir == "" {
			problems = append(problems, "sink.dir is required")
		}
	case "check":
		if c.Probe.TimeoutSecs <= 0 {
			problems = append(problems, "probe.timeout_secs must be > 0")
		}
	case "runs":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			problems = append(problems, "monitoring.lookback_window_hours must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
