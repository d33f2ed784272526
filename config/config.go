package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"safedeal/crypto"

	"github.com/BurntSushi/toml"
)

// Environment variables consulted by Load.
const (
	EnvEnvironment        = "SAFEDEAL_ENV"
	EnvKeystorePassphrase = "SAFEDEAL_KEYSTORE_PASSPHRASE"
	DefaultJWTSecretEnv   = "SAFEDEAL_RPC_JWT_SECRET"
)

type Config struct {
	NetworkName          string `toml:"NetworkName"`
	Environment          string `toml:"Environment"`
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	GenesisFile          string `toml:"GenesisFile"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`

	Chain     Chain     `toml:"chain"`
	SafeDeal  SafeDeal  `toml:"safedeal"`
	Scheduler Scheduler `toml:"scheduler"`
	Token     Token     `toml:"token"`
	RPC       RPC       `toml:"rpc"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Default returns a localnet configuration.
func Default() *Config {
	return &Config{
		NetworkName: "safedeal-local",
		Environment: "dev",
		RPCAddress:  ":8080",
		DataDir:     "./safedeal-data",
		Chain: Chain{
			T0Millis:    16_000,
			Threads:     32,
			AllowFaucet: true,
		},
		SafeDeal: SafeDeal{
			ExecutionReserve:       1_000_000_000,
			MaxGasForExecution:     20_000_000,
			ExecutionBufferPeriods: 1,
			AutoExecution:          true,
		},
		Scheduler: Scheduler{
			BaseFee:           10_000_000,
			GasPrice:          1,
			ByteFee:           1_000,
			MaxGasPerSlot:     1_000_000_000,
			MaxBookingPeriods: 10_000_000,
		},
		Token: Token{Name: "SafeDeal Dollar", Symbol: "SDUSD", Decimals: 6},
		RPC: RPC{
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			IdleTimeout:       60,
			CallsPerSecond:    5,
			CallBurst:         10,
			JWTSecretEnv:      DefaultJWTSecretEnv,
			JWTIssuer:         "safedeal-operator",
		},
		Logging: Logging{Level: "info"},
	}
}

// Load loads the configuration from the given path, creating a default file
// and operator keystore when it does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "safedeal-local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
}

// T0 returns the period length.
func (c *Config) T0() time.Duration {
	return time.Duration(c.Chain.T0Millis) * time.Millisecond
}

// GenesisTime parses Chain.GenesisTime. The zero time is returned when unset.
func (c *Config) GenesisTime() (time.Time, error) {
	raw := strings.TrimSpace(c.Chain.GenesisTime)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("chain.GenesisTime: %w", err)
	}
	return ts, nil
}

// AllowedToken decodes SafeDeal.AllowedToken; the zero address means the
// built-in token.
func (c *Config) AllowedToken() ([20]byte, error) {
	raw := strings.TrimSpace(c.SafeDeal.AllowedToken)
	if raw == "" {
		return [20]byte{}, nil
	}
	return crypto.ParseAddress20(raw)
}

// JWTSecret reads the admin secret from the configured environment variable.
func (c *Config) JWTSecret() string {
	name := strings.TrimSpace(c.RPC.JWTSecretEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, os.Getenv(EnvKeystorePassphrase)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, os.Getenv(EnvKeystorePassphrase)); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
