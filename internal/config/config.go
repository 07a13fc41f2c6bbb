package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	RPCURL     string `envconfig:"SOLMIGRATE_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	DASURL     string `envconfig:"SOLMIGRATE_DAS_URL"`
	FeeFeedURL string `envconfig:"SOLMIGRATE_FEE_FEED_URL" default:"https://flipsidecrypto.xyz/api/v1/queries/587c7516-e841-4f58-a7f0-2d0f5c056f5a/data/latest"`
	PriceURL   string `envconfig:"SOLMIGRATE_PRICE_URL" default:"https://api.coingecko.com/api/v3"` // empty disables USD values

	KeypairFile  string `envconfig:"SOLMIGRATE_KEYPAIR_FILE"`
	MnemonicFile string `envconfig:"SOLMIGRATE_MNEMONIC_FILE"`
	AccountIndex uint32 `envconfig:"SOLMIGRATE_ACCOUNT_INDEX" default:"0"`

	Port     int    `envconfig:"SOLMIGRATE_PORT" default:"8080"`
	LogLevel string `envconfig:"SOLMIGRATE_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"SOLMIGRATE_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"SOLMIGRATE_NETWORK" default:"mainnet"`

	CoinReserveLamports uint64        `envconfig:"SOLMIGRATE_COIN_RESERVE_LAMPORTS" default:"1000000"`
	NFTBatchSize        int           `envconfig:"SOLMIGRATE_NFT_BATCH_SIZE" default:"2"`
	CNFTPacing          time.Duration `envconfig:"SOLMIGRATE_CNFT_PACING" default:"1s"`
	SettleDelay         time.Duration `envconfig:"SOLMIGRATE_SETTLE_DELAY" default:"5s"`
	BroadcastRetries    int           `envconfig:"SOLMIGRATE_BROADCAST_RETRIES" default:"1"`
	RPCRateLimit        int           `envconfig:"SOLMIGRATE_RPC_RATE_LIMIT" default:"10"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "devnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"devnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("%w: rpc url is required", ErrInvalidConfig)
	}
	if c.NFTBatchSize < MinNFTBatchSize || c.NFTBatchSize > MaxNFTBatchSize {
		return fmt.Errorf("%w: nft batch size must be %d-%d, got %d", ErrInvalidConfig, MinNFTBatchSize, MaxNFTBatchSize, c.NFTBatchSize)
	}
	if c.BroadcastRetries < 0 || c.BroadcastRetries > MaxBroadcastRetries {
		return fmt.Errorf("%w: broadcast retries must be 0-%d, got %d", ErrInvalidConfig, MaxBroadcastRetries, c.BroadcastRetries)
	}
	if c.RPCRateLimit < 1 {
		return fmt.Errorf("%w: rpc rate limit must be positive, got %d", ErrInvalidConfig, c.RPCRateLimit)
	}
	if c.CNFTPacing < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.KeypairFile != "" && c.MnemonicFile != "" {
		return fmt.Errorf("%w: set only one of keypair file or mnemonic file", ErrInvalidConfig)
	}
	return nil
}

// DASEndpoint returns the digital asset endpoint, falling back to the RPC URL.
func (c *Config) DASEndpoint() string {
	if c.DASURL != "" {
		return c.DASURL
	}
	return c.RPCURL
}
