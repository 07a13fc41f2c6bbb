package config

import "time"

// Program IDs, identical on mainnet and devnet.
const (
	SOLSystemProgramID          = "11111111111111111111111111111111"
	SOLTokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	SOLToken2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	SOLAssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SOLTokenMetadataProgramID   = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	SOLBubblegumProgramID       = "BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY"
	SOLNoopProgramID            = "noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV"
	SOLCompressionProgramID     = "cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK"
	SOLInstructionsSysvarID     = "Sysvar1nstructions1111111111111111111111111"
)

// Ledger
const (
	SOLDecimals           = 9 // lamports per SOL = 10^9
	SOLMaxTxSize          = 1232
	SOLTokenAccountSize   = 165
	SOLBaseTransactionFee = 5_000
	SOLCommitment         = "confirmed"
)

// Consolidation
const (
	DefaultCoinReserveLamports = 1_000_000 // 0.001 SOL left to pay the final fee
	MinNFTBatchSize            = 1
	MaxNFTBatchSize            = 3
	MaxBroadcastRetries        = 5
	BroadcastRetryDelay        = 2 * time.Second
	FeeTruncationDigits        = 2
	MaxFeeBasisPoints          = 10_000
)

// DAS (digital asset standard) read API
const (
	DASPageLimit     = 1000
	DASMaxPages      = 50
	DASRequestID     = "solmigrate"
	RateLimitDAS     = 10
	DASCircuitThresh = 5
)

// Price
const (
	CoinGeckoSOLID     = "solana"
	PriceCacheDuration = 5 * time.Minute
)

// Circuit Breaker
const (
	CircuitClosed             = "closed"
	CircuitOpen               = "open"
	CircuitHalfOpen           = "half_open"
	CircuitBreakerHalfOpenMax = 1
	CircuitBreakerCooldown    = 30 * time.Second
)

// Confirmation
const (
	SOLConfirmationTimeout      = 60 * time.Second
	SOLConfirmationPollInterval = 2 * time.Second
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 0 // SSE streams and long consolidation runs
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 30 * time.Second
	APITimeout           = 30 * time.Second
	SSEKeepAliveInterval = 15 * time.Second
	EventHubBuffer       = 64
)

// Logging
const (
	LogFilePrefix  = "solmigrate-"
	LogFilePattern = "solmigrate-%s.log" // %s = YYYY-MM-DD
	LogMaxAgeDays  = 30
)
