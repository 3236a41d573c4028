package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"usdtgate/internal/shared/logger"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig holds MySQL connection settings.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // minutes
}

// ChainConfig holds one chain's watcher settings.
type ChainConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RPC           string `mapstructure:"rpc"`
	Address       string `mapstructure:"address"`
	SmartContract string `mapstructure:"smart_contract"`
}

// PayConfig holds order pricing and settlement settings.
type PayConfig struct {
	Atom             string `mapstructure:"atom"` // disambiguation step: 0.1, 0.01 or 0.001
	Rate             string `mapstructure:"rate"` // default rate strategy, e.g. "~1", "+0.3", "7.2"
	TimeoutSeconds   int    `mapstructure:"timeout"`
	TradeIsConfirmed bool   `mapstructure:"trade_is_confirmed"` // finalized head vs latest head
}

// AppConfig holds gateway-level settings.
type AppConfig struct {
	URI       string `mapstructure:"uri"`
	AuthToken string `mapstructure:"auth_token"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   logger.Config  `mapstructure:"logger"`
	App      AppConfig      `mapstructure:"app"`
	Pay      PayConfig      `mapstructure:"pay"`
	TRC20    ChainConfig    `mapstructure:"trc20"`
	SPL      ChainConfig    `mapstructure:"spl"`
	BEP20    ChainConfig    `mapstructure:"bep20"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load reads configs/config.yaml with USDTGATE_ env overrides.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")

	viper.SetEnvPrefix("USDTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, env and defaults may be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

// Validate enforces the invariants the order pipeline depends on.
func (c *Config) Validate() error {
	switch c.Pay.Atom {
	case "0.1", "0.01", "0.001":
	default:
		return fmt.Errorf("pay.atom must be 0.1, 0.01 or 0.001, got %q", c.Pay.Atom)
	}
	if c.TRC20.Enabled && c.TRC20.Address == "" {
		return fmt.Errorf("trc20.address is required when trc20 is enabled")
	}
	if c.SPL.Enabled && c.SPL.Address == "" {
		return fmt.Errorf("spl.address is required when spl is enabled")
	}
	if c.BEP20.Enabled && c.BEP20.Address == "" {
		return fmt.Errorf("bep20.address is required when bep20 is enabled")
	}
	return nil
}

// Chain returns the configuration for the given chain type, or nil.
func (c *Config) Chain(chainType string) *ChainConfig {
	switch chainType {
	case "TRC20":
		return &c.TRC20
	case "SPL":
		return &c.SPL
	case "BEP20":
		return &c.BEP20
	}
	return nil
}

// Scale returns the number of USDT decimal places implied by the atom step.
func (p *PayConfig) Scale() int {
	switch p.Atom {
	case "0.1":
		return 1
	case "0.001":
		return 3
	default:
		return 2
	}
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "usdtgate")
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 60)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	viper.SetDefault("app.uri", "http://localhost:8080")
	viper.SetDefault("app.auth_token", "")

	viper.SetDefault("pay.atom", "0.01")
	viper.SetDefault("pay.rate", "~1")
	viper.SetDefault("pay.timeout", 1200)
	viper.SetDefault("pay.trade_is_confirmed", true)

	// Mainnet USDT deployments.
	viper.SetDefault("trc20.enabled", false)
	viper.SetDefault("trc20.rpc", "https://api.trongrid.io")
	viper.SetDefault("trc20.smart_contract", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")

	viper.SetDefault("spl.enabled", false)
	viper.SetDefault("spl.rpc", "https://api.mainnet-beta.solana.com")
	viper.SetDefault("spl.smart_contract", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")

	viper.SetDefault("bep20.enabled", false)
	viper.SetDefault("bep20.rpc", "https://bsc-dataseed.bnbchain.org")
	viper.SetDefault("bep20.smart_contract", "0x55d398326f99059fF775485246999027B3197955")
}
