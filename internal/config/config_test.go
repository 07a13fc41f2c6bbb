package config

import (
	"errors"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		RPCURL:              "https://api.mainnet-beta.solana.com",
		Network:             "mainnet",
		Port:                8080,
		CoinReserveLamports: DefaultCoinReserveLamports,
		NFTBatchSize:        2,
		CNFTPacing:          time.Second,
		SettleDelay:         5 * time.Second,
		BroadcastRetries:    1,
		RPCRateLimit:        10,
	}
}

func TestValidate_ValidMainnet(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_ValidDevnet(t *testing.T) {
	cfg := validConfig()
	cfg.Network = "devnet"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []struct {
		name    string
		network string
	}{
		{"empty", ""},
		{"foobar", "foobar"},
		{"Mainnet case sensitive", "Mainnet"},
		{"testnet", "testnet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Network = tt.network
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig for network=%q", err, tt.network)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Port = tt.port
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error for port=%d, got nil", tt.port)
			}
		})
	}
}

func TestValidate_NFTBatchSize(t *testing.T) {
	tests := []struct {
		size    int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{2, false},
		{3, false},
		{4, true},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.NFTBatchSize = tt.size
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate() with NFTBatchSize=%d error = %v, wantErr %v", tt.size, err, tt.wantErr)
		}
	}
}

func TestValidate_Misc(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no rpc", func(c *Config) { c.RPCURL = "" }},
		{"negative retries", func(c *Config) { c.BroadcastRetries = -1 }},
		{"too many retries", func(c *Config) { c.BroadcastRetries = MaxBroadcastRetries + 1 }},
		{"zero rate limit", func(c *Config) { c.RPCRateLimit = 0 }},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Second }},
		{"both key sources", func(c *Config) {
			c.KeypairFile = "id.json"
			c.MnemonicFile = "words.txt"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDASEndpoint_FallsBackToRPC(t *testing.T) {
	cfg := validConfig()
	if got := cfg.DASEndpoint(); got != cfg.RPCURL {
		t.Errorf("DASEndpoint() = %q, want %q", got, cfg.RPCURL)
	}

	cfg.DASURL = "https://das.example.com"
	if got := cfg.DASEndpoint(); got != "https://das.example.com" {
		t.Errorf("DASEndpoint() = %q, want das url", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SOLMIGRATE_NETWORK", "devnet")
	t.Setenv("SOLMIGRATE_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("SOLMIGRATE_NFT_BATCH_SIZE", "3")
	t.Setenv("SOLMIGRATE_CNFT_PACING", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network != "devnet" {
		t.Errorf("Network = %q, want devnet", cfg.Network)
	}
	if cfg.NFTBatchSize != 3 {
		t.Errorf("NFTBatchSize = %d, want 3", cfg.NFTBatchSize)
	}
	if cfg.CNFTPacing != 250*time.Millisecond {
		t.Errorf("CNFTPacing = %v, want 250ms", cfg.CNFTPacing)
	}
	if cfg.CoinReserveLamports != DefaultCoinReserveLamports {
		t.Errorf("CoinReserveLamports = %d, want %d", cfg.CoinReserveLamports, DefaultCoinReserveLamports)
	}
}
