package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the deal indexer.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	Node          NodeConfig     `yaml:"node"`
	Database      DatabaseConfig `yaml:"database"`
	Admin         AdminConfig    `yaml:"admin"`
	Export        ExportConfig   `yaml:"export"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// NodeConfig points the watcher at a safedeald JSON-RPC endpoint.
type NodeConfig struct {
	URL          string   `yaml:"url"`
	PollInterval Duration `yaml:"poll_interval"`
	BatchSize    int      `yaml:"batch_size"`
	Timeout      Duration `yaml:"timeout"`
}

// DatabaseConfig selects the storage backend. DSNs starting with
// postgres:// or postgresql:// use Postgres; anything else is a sqlite path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AdminConfig protects the admin API with HS256 bearer tokens.
type AdminConfig struct {
	JWTSecretEnv string `yaml:"jwt_secret_env"`
	Issuer       string `yaml:"issuer"`
}

// ExportConfig controls parquet snapshot output.
type ExportConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.Node.URL == "" {
		cfg.Node.URL = "http://127.0.0.1:8080"
	}
	if cfg.Node.PollInterval.Duration == 0 {
		cfg.Node.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Node.BatchSize <= 0 {
		cfg.Node.BatchSize = 100
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 10 * time.Second
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "/var/data/dealindexer.sqlite"
	}
	if cfg.Admin.JWTSecretEnv == "" {
		cfg.Admin.JWTSecretEnv = "DEALINDEXER_ADMIN_SECRET"
	}
	if cfg.Export.Directory == "" {
		cfg.Export.Directory = "/var/data/dealindexer/exports"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg Config) error {
	url := strings.TrimSpace(cfg.Node.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("node.url must be an http(s) URL")
	}
	if cfg.Node.PollInterval.Duration < 0 {
		return fmt.Errorf("node.poll_interval must not be negative")
	}
	if cfg.Node.BatchSize > 1000 {
		return fmt.Errorf("node.batch_size must not exceed 1000")
	}
	return nil
}

// AdminSecret resolves the admin signing secret from the environment.
func (c Config) AdminSecret() string {
	return strings.TrimSpace(os.Getenv(c.Admin.JWTSecretEnv))
}

// IsPostgres reports whether the DSN selects the Postgres driver.
func (d DatabaseConfig) IsPostgres() bool {
	dsn := strings.ToLower(strings.TrimSpace(d.DSN))
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
