package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Wallet      WalletConfig
	Chains      map[uint64]ChainConfig
	PriceSource PriceSourceConfig
	Geo         GeoConfig
}

// WalletConfig holds the wallet provider configuration. The private key
// backs the provider's signing boundary; key custody stays outside the
// orchestration layer.
type WalletConfig struct {
	PrivateKey     string
	DefaultChainID uint64
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ChainConfig holds configuration for one EVM chain
type ChainConfig struct {
	ChainID               uint64
	Name                  string
	RPCEndpoint           string
	EscrowContractAddress string // Dezentra escrow contract
	StableTokenAddress    string // USDT ERC20 contract address
	StableTokenSymbol     string
	StableTokenDecimals   int
	NativeTokenSymbol     string
	NativeTokenName       string
	NativeTokenID         string   // price source identifier for the native token
	StableTokenID         string   // price source identifier for the stable token
	ChainSelector         uint64   // routing selector identifying this chain
	CrossChainSelectors   []uint64 // destination selectors reachable from this chain

	// Static fallback ratios served when no rate data is available
	DefaultStableToNative float64
	DefaultStableToFiat   float64
	DefaultNativeToFiat   float64
}

// PriceSourceConfig holds the external price API configuration
type PriceSourceConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// GeoConfig holds the geolocation API configuration
type GeoConfig struct {
	Endpoint string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dezentra_wallet"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		PriceSource: PriceSourceConfig{
			Endpoint: getEnv("PRICE_SOURCE_ENDPOINT", "https://api.coingecko.com/api/v3/simple/price"),
			Timeout:  getEnvDuration("PRICE_SOURCE_TIMEOUT", 10*time.Second),
		},
		Geo: GeoConfig{
			Endpoint: getEnv("GEO_ENDPOINT", "https://ipapi.co/json"),
			Timeout:  getEnvDuration("GEO_TIMEOUT", 8*time.Second),
			CacheTTL: getEnvDuration("GEO_CACHE_TTL", 24*time.Hour),
		},
		Wallet: WalletConfig{
			PrivateKey:     getEnv("WALLET_PRIVATE_KEY", ""),
			DefaultChainID: uint64(getEnvInt("WALLET_DEFAULT_CHAIN_ID", 44787)),
		},
		Chains: make(map[uint64]ChainConfig),
	}

	loadChainConfigs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadChainConfigs loads configuration for all supported chains
func loadChainConfigs(cfg *Config) {
	// Celo Alfajores
	if rpc := getEnv("CELO_RPC_ENDPOINT", ""); rpc != "" {
		cfg.Chains[44787] = ChainConfig{
			ChainID:               44787,
			Name:                  "Celo Alfajores",
			RPCEndpoint:           rpc,
			EscrowContractAddress: getEnv("CELO_ESCROW_CONTRACT", ""),
			StableTokenAddress:    getEnv("CELO_USDT_ADDRESS", ""),
			StableTokenSymbol:     "USDT",
			StableTokenDecimals:   6,
			NativeTokenSymbol:     "CELO",
			NativeTokenName:       "Celo",
			NativeTokenID:         "celo",
			StableTokenID:         "tether",
			ChainSelector:         3552045678561919002,
			CrossChainSelectors:   getEnvUint64Slice("CELO_CCIP_DESTINATIONS", []uint64{14767482510784806043, 10344971235874465080}),
			DefaultStableToNative: 2.5,
			DefaultStableToFiat:   1.0,
			DefaultNativeToFiat:   0.4,
		}
	}

	// Avalanche Fuji
	if rpc := getEnv("FUJI_RPC_ENDPOINT", ""); rpc != "" {
		cfg.Chains[43113] = ChainConfig{
			ChainID:               43113,
			Name:                  "Avalanche Fuji",
			RPCEndpoint:           rpc,
			EscrowContractAddress: getEnv("FUJI_ESCROW_CONTRACT", ""),
			StableTokenAddress:    getEnv("FUJI_USDT_ADDRESS", ""),
			StableTokenSymbol:     "USDT",
			StableTokenDecimals:   6,
			NativeTokenSymbol:     "AVAX",
			NativeTokenName:       "Avalanche",
			NativeTokenID:         "avalanche-2",
			StableTokenID:         "tether",
			ChainSelector:         14767482510784806043,
			CrossChainSelectors:   getEnvUint64Slice("FUJI_CCIP_DESTINATIONS", []uint64{3552045678561919002, 10344971235874465080}),
			DefaultStableToNative: 0.04,
			DefaultStableToFiat:   1.0,
			DefaultNativeToFiat:   25.0,
		}
	}

	// Base Sepolia
	if rpc := getEnv("BASE_RPC_ENDPOINT", ""); rpc != "" {
		cfg.Chains[84532] = ChainConfig{
			ChainID:               84532,
			Name:                  "Base Sepolia",
			RPCEndpoint:           rpc,
			EscrowContractAddress: getEnv("BASE_ESCROW_CONTRACT", ""),
			StableTokenAddress:    getEnv("BASE_USDT_ADDRESS", ""),
			StableTokenSymbol:     "USDT",
			StableTokenDecimals:   6,
			NativeTokenSymbol:     "ETH",
			NativeTokenName:       "Ethereum",
			NativeTokenID:         "ethereum",
			StableTokenID:         "tether",
			ChainSelector:         10344971235874465080,
			CrossChainSelectors:   getEnvUint64Slice("BASE_CCIP_DESTINATIONS", []uint64{3552045678561919002, 14767482510784806043}),
			DefaultStableToNative: 0.0004,
			DefaultStableToFiat:   1.0,
			DefaultNativeToFiat:   2500.0,
		}
	}
}

// Chain returns the configuration for a chain id, or false when the chain
// is not configured.
func (c *Config) Chain(chainID uint64) (*ChainConfig, bool) {
	chain, ok := c.Chains[chainID]
	if !ok {
		return nil, false
	}
	return &chain, true
}

// SupportsDestination reports whether the given routing selector is an
// allowed cross-chain destination from this chain.
func (cc *ChainConfig) SupportsDestination(selector uint64) bool {
	for _, s := range cc.CrossChainSelectors {
		if s == selector {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet private key is required")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	for chainID, chain := range c.Chains {
		if chain.EscrowContractAddress == "" {
			return fmt.Errorf("escrow contract address is required for chain %d", chainID)
		}
		if chain.StableTokenAddress == "" {
			return fmt.Errorf("stable token address is required for chain %d", chainID)
		}
		if len(chain.CrossChainSelectors) > 0 {
			if chain.ChainSelector == 0 {
				return fmt.Errorf("chain selector is required for chain %d with cross-chain destinations", chainID)
			}
			if chain.SupportsDestination(chain.ChainSelector) {
				return fmt.Errorf("chain %d lists its own selector as a cross-chain destination", chainID)
			}
		}
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvUint64Slice(key string, defaultValue []uint64) []uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]uint64, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		n, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			continue
		}
		result = append(result, n)
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
