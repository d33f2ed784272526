package config

// Chain controls slot timing.
type Chain struct {
	// GenesisTime is RFC3339. It is only used when no genesis file is set.
	GenesisTime string `toml:"GenesisTime"`
	T0Millis    uint64 `toml:"T0Millis"`
	Threads     uint8  `toml:"Threads"`
	AllowFaucet bool   `toml:"AllowFaucet"`
}

// SafeDeal captures the escrow contract parameters.
type SafeDeal struct {
	// AllowedToken defaults to the built-in token when empty.
	AllowedToken           string `toml:"AllowedToken"`
	ExecutionReserve       uint64 `toml:"ExecutionReserve"`
	MaxGasForExecution     uint64 `toml:"MaxGasForExecution"`
	ExecutionBufferPeriods uint64 `toml:"ExecutionBufferPeriods"`
	AutoExecution          bool   `toml:"AutoExecution"`
}

// Scheduler prices deferred call bookings.
type Scheduler struct {
	BaseFee           uint64 `toml:"BaseFee"`
	GasPrice          uint64 `toml:"GasPrice"`
	ByteFee           uint64 `toml:"ByteFee"`
	MaxGasPerSlot     uint64 `toml:"MaxGasPerSlot"`
	MaxBookingPeriods uint64 `toml:"MaxBookingPeriods"`
}

// Token describes the built-in fungible token.
type Token struct {
	Name     string `toml:"Name"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// RPC configures the JSON-RPC server.
type RPC struct {
	ReadHeaderTimeout int     `toml:"ReadHeaderTimeout"`
	ReadTimeout       int     `toml:"ReadTimeout"`
	WriteTimeout      int     `toml:"WriteTimeout"`
	IdleTimeout       int     `toml:"IdleTimeout"`
	CallsPerSecond    float64 `toml:"CallsPerSecond"`
	CallBurst         int     `toml:"CallBurst"`
	TrustProxyHeaders bool    `toml:"TrustProxyHeaders"`
	// JWTSecretEnv names the variable holding the HS256 secret for dev_*
	// methods. Dev methods are disabled when it is unset.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}
