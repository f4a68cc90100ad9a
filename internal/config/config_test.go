package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost"},
		Wallet:   WalletConfig{PrivateKey: "ab" /* hex key */, DefaultChainID: 44787},
		Chains: map[uint64]ChainConfig{
			44787: {
				ChainID:               44787,
				EscrowContractAddress: "0x7777777777777777777777777777777777777777",
				StableTokenAddress:    "0x8888888888888888888888888888888888888888",
				ChainSelector:         3552045678561919002,
				CrossChainSelectors:   []uint64{14767482510784806043},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(cfg *Config)
		expectError bool
	}{
		{
			name:        "valid config",
			mutate:      func(cfg *Config) {},
			expectError: false,
		},
		{
			name:        "invalid port",
			mutate:      func(cfg *Config) { cfg.Server.Port = 0 },
			expectError: true,
		},
		{
			name:        "missing database host",
			mutate:      func(cfg *Config) { cfg.Database.Host = "" },
			expectError: true,
		},
		{
			name:        "missing wallet key",
			mutate:      func(cfg *Config) { cfg.Wallet.PrivateKey = "" },
			expectError: true,
		},
		{
			name:        "no chains",
			mutate:      func(cfg *Config) { cfg.Chains = map[uint64]ChainConfig{} },
			expectError: true,
		},
		{
			name: "chain missing escrow contract",
			mutate: func(cfg *Config) {
				chain := cfg.Chains[44787]
				chain.EscrowContractAddress = ""
				cfg.Chains[44787] = chain
			},
			expectError: true,
		},
		{
			name: "chain missing stable token",
			mutate: func(cfg *Config) {
				chain := cfg.Chains[44787]
				chain.StableTokenAddress = ""
				cfg.Chains[44787] = chain
			},
			expectError: true,
		},
		{
			name: "cross-chain destinations without a chain selector",
			mutate: func(cfg *Config) {
				chain := cfg.Chains[44787]
				chain.ChainSelector = 0
				cfg.Chains[44787] = chain
			},
			expectError: true,
		},
		{
			name: "own selector listed as a destination",
			mutate: func(cfg *Config) {
				chain := cfg.Chains[44787]
				chain.CrossChainSelectors = append(chain.CrossChainSelectors, chain.ChainSelector)
				cfg.Chains[44787] = chain
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("expected validation error")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestChain(t *testing.T) {
	cfg := validConfig()

	chain, ok := cfg.Chain(44787)
	if !ok {
		t.Fatal("expected chain 44787")
	}
	if chain.ChainID != 44787 {
		t.Errorf("ChainID = %d", chain.ChainID)
	}

	if _, ok := cfg.Chain(1); ok {
		t.Error("chain 1 should not be configured")
	}
}

func TestSupportsDestination(t *testing.T) {
	chain := &ChainConfig{CrossChainSelectors: []uint64{1, 2, 3}}

	if !chain.SupportsDestination(2) {
		t.Error("selector 2 should be supported")
	}
	if chain.SupportsDestination(4) {
		t.Error("selector 4 should not be supported")
	}
	empty := &ChainConfig{}
	if empty.SupportsDestination(1) {
		t.Error("no selectors means no destinations")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_SELECTORS", "10,20,30")

	if got := getEnv("TEST_STRING", "fallback"); got != "value" {
		t.Errorf("getEnv = %q", got)
	}
	if got := getEnv("TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv fallback = %q", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("TEST_MISSING", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %s", got)
	}
	if got := getEnvDuration("TEST_MISSING", time.Second); got != time.Second {
		t.Errorf("getEnvDuration fallback = %s", got)
	}
	selectors := getEnvUint64Slice("TEST_SELECTORS", nil)
	if len(selectors) != 3 || selectors[0] != 10 || selectors[2] != 30 {
		t.Errorf("getEnvUint64Slice = %v", selectors)
	}
	if got := getEnvUint64Slice("TEST_MISSING", []uint64{5}); len(got) != 1 || got[0] != 5 {
		t.Errorf("getEnvUint64Slice fallback = %v", got)
	}
}
