// Package config loads vaultd settings from defaults, an optional config.yaml
// and the environment, in increasing priority.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Redis   RedisConfig
	Chain   ChainConfig
	Server  ServerConfig
	Cosign  CosignConfig
	Settler SettlerConfig
	Vault   VaultConfig
	Sandbox SandboxConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	ChainID int64 `mapstructure:"chain_id"`
}

type ServerConfig struct {
	Port               int `mapstructure:"port"`
	GRPCPort           int `mapstructure:"grpc_port"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`
}

type CosignConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PrivateKey     string `mapstructure:"private_key"`
	MaxDeadlineSec int64  `mapstructure:"max_deadline_sec"`
	MaxSlippageBps uint64 `mapstructure:"max_slippage_bps"`
}

type SettlerConfig struct {
	PollTimeoutSec int `mapstructure:"poll_timeout_sec"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	// Relayer is the submitter identity logged with each settlement.
	Relayer string `mapstructure:"relayer"`
}

// VaultConfig is the deployment: addresses, role holders and strategy wiring.
type VaultConfig struct {
	Admin         string `mapstructure:"admin"`
	Ledger        string `mapstructure:"ledger"`
	Asset         string `mapstructure:"asset"`
	AssetSymbol   string `mapstructure:"asset_symbol"`
	AssetDecimals uint8  `mapstructure:"asset_decimals"`
	MintQueue     string `mapstructure:"mint_queue"`
	RedeemQueue   string `mapstructure:"redeem_queue"`
	Threshold     uint64 `mapstructure:"threshold"`

	// Roles maps a role name (KEEPER, keeper or KEEPER_ROLE) to its holders.
	Roles     map[string][]string `mapstructure:"roles"`
	Signers   []SignerConfig      `mapstructure:"signers"`
	Subvaults []SubvaultConfig    `mapstructure:"subvaults"`
	Allowlist []AllowConfig       `mapstructure:"allowlist"`
}

type SignerConfig struct {
	Address string `mapstructure:"address"`
	Weight  uint64 `mapstructure:"weight"`
	Scheme  string `mapstructure:"scheme"`
}

type SubvaultConfig struct {
	Address      string   `mapstructure:"address"`
	Router       string   `mapstructure:"router"`
	Market       string   `mapstructure:"market"`
	Constituents []string `mapstructure:"constituents"`
	MaxTotal     string   `mapstructure:"max_total"`
	MaxPerPush   string   `mapstructure:"max_per_push"`
}

type AllowConfig struct {
	Caller   string `mapstructure:"caller"`
	Target   string `mapstructure:"target"`
	Selector string `mapstructure:"selector"`
}

// SandboxConfig deploys simulated yield routers at each subvault's router and
// market address and credits the faucet balances at boot.
type SandboxConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	SlippageBps uint64         `mapstructure:"slippage_bps"`
	Faucet      []FaucetConfig `mapstructure:"faucet"`
}

type FaucetConfig struct {
	Address string `mapstructure:"address"`
	Amount  string `mapstructure:"amount"`
}

// Load reads config.yaml from the working directory or /app.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given YAML file instead of searching for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.shutdown_timeout_sec", 15)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("chain.chain_id", 16602)
	v.SetDefault("cosign.enabled", true)
	v.SetDefault("cosign.max_deadline_sec", 3600)
	v.SetDefault("cosign.max_slippage_bps", 500)
	v.SetDefault("settler.poll_timeout_sec", 5)
	v.SetDefault("settler.retry_backoff_ms", 1000)
	v.SetDefault("vault.asset_symbol", "USDC")
	v.SetDefault("vault.asset_decimals", 18)
	v.SetDefault("vault.threshold", 1)
	v.SetDefault("sandbox.slippage_bps", 250)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		// Config file (optional)
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
		_ = v.ReadInConfig()
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"chain.chain_id":              "CHAIN_ID",
		"server.port":                 "PORT",
		"server.grpc_port":            "GRPC_PORT",
		"server.shutdown_timeout_sec": "SHUTDOWN_TIMEOUT_SEC",
		"cosign.enabled":              "COSIGN_ENABLED",
		"cosign.private_key":          "COSIGNER_KEY",
		"cosign.max_deadline_sec":     "COSIGN_MAX_DEADLINE_SEC",
		"cosign.max_slippage_bps":     "COSIGN_MAX_SLIPPAGE_BPS",
		"settler.poll_timeout_sec":    "SETTLER_POLL_TIMEOUT_SEC",
		"settler.retry_backoff_ms":    "SETTLER_RETRY_BACKOFF_MS",
		"settler.relayer":             "RELAYER_ADDRESS",
		"vault.admin":                 "VAULT_ADMIN",
		"vault.ledger":                "VAULT_LEDGER",
		"vault.asset":                 "VAULT_ASSET",
		"vault.mint_queue":            "MINT_QUEUE",
		"vault.redeem_queue":          "REDEEM_QUEUE",
		"vault.threshold":             "CONSENSUS_THRESHOLD",
		"sandbox.enabled":             "SANDBOX",
		"sandbox.slippage_bps":        "SANDBOX_SLIPPAGE_BPS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	reqs := []req{
		{c.Vault.Admin, "VAULT_ADMIN"},
		{c.Vault.Ledger, "VAULT_LEDGER"},
		{c.Vault.Asset, "VAULT_ASSET"},
		{c.Vault.MintQueue, "MINT_QUEUE"},
		{c.Vault.RedeemQueue, "REDEEM_QUEUE"},
	}
	if c.Cosign.Enabled {
		reqs = append(reqs, req{c.Cosign.PrivateKey, "COSIGNER_KEY"})
	}
	for _, r := range reqs {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Cosign.MaxSlippageBps > 10_000 || c.Sandbox.SlippageBps > 10_000 {
		return fmt.Errorf("slippage bps must be <= 10000")
	}
	for i, s := range c.Vault.Subvaults {
		if s.Address == "" || s.Router == "" || s.Market == "" {
			return fmt.Errorf("vault.subvaults[%d]: address, router and market are required", i)
		}
	}
	return nil
}
