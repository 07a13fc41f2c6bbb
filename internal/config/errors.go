package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig = errors.New("invalid configuration")

	// Consolidation taxonomy
	ErrInvalidDestination     = errors.New("invalid destination address")
	ErrDiscoveryFailure       = errors.New("asset discovery failed")
	ErrFeeScheduleUnavailable = errors.New("fee schedule unavailable")
	ErrSigningRejected        = errors.New("signing rejected")
	ErrBroadcastFailure       = errors.New("transaction broadcast failed")
	ErrProofStale             = errors.New("compressed asset proof stale or unavailable")
	ErrRunInProgress          = errors.New("consolidation already running for this owner")
	ErrNoSigner               = errors.New("no signer configured")

	// Ledger
	ErrProviderRateLimit   = errors.New("provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrPaginationConflict  = errors.New("only one pagination parameter supported per query")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrPriceUnavailable    = errors.New("price unavailable")

	// SOL
	ErrSOLTxTooLarge           = errors.New("SOL transaction exceeds 1232 byte limit")
	ErrSOLConfirmationTimeout  = errors.New("SOL transaction confirmation timeout")
	ErrSOLTxFailed             = errors.New("SOL transaction failed on-chain")
	ErrSOLInsufficientLamports = errors.New("insufficient lamports to cover transaction fee")
	ErrSOLBlockhashExpired     = errors.New("recent blockhash expired")
	ErrInvalidMnemonic         = errors.New("invalid mnemonic")
	ErrKeyDerivation           = errors.New("key derivation failed")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes shared with the UI via API responses and events.
const (
	ErrorInvalidConfig          = "ERROR_INVALID_CONFIG"
	ErrorInvalidDestination     = "ERROR_INVALID_DESTINATION"
	ErrorInvalidAddress         = "ERROR_INVALID_ADDRESS"
	ErrorInvalidRequest         = "ERROR_INVALID_REQUEST"
	ErrorDiscoveryFailed        = "ERROR_DISCOVERY_FAILED"
	ErrorFeeScheduleFailed      = "ERROR_FEE_SCHEDULE_UNAVAILABLE"
	ErrorSigningRejected        = "ERROR_SIGNING_REJECTED"
	ErrorBroadcastFailed        = "ERROR_BROADCAST_FAILED"
	ErrorProofStale             = "ERROR_PROOF_STALE"
	ErrorRunInProgress          = "ERROR_RUN_IN_PROGRESS"
	ErrorNoSigner               = "ERROR_NO_SIGNER"
	ErrorSOLTxTooLarge          = "ERROR_SOL_TX_TOO_LARGE"
	ErrorSOLConfirmationTimeout = "ERROR_SOL_CONFIRMATION_TIMEOUT"
	ErrorRunCancelled           = "ERROR_RUN_CANCELLED"
	ErrorInternal               = "ERROR_INTERNAL"
)

// ErrorCode maps a taxonomy error to its API error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDestination):
		return ErrorInvalidDestination
	case errors.Is(err, ErrDiscoveryFailure):
		return ErrorDiscoveryFailed
	case errors.Is(err, ErrFeeScheduleUnavailable):
		return ErrorFeeScheduleFailed
	case errors.Is(err, ErrSigningRejected):
		return ErrorSigningRejected
	case errors.Is(err, ErrProofStale):
		return ErrorProofStale
	case errors.Is(err, ErrSOLTxTooLarge):
		return ErrorSOLTxTooLarge
	case errors.Is(err, ErrSOLConfirmationTimeout):
		return ErrorSOLConfirmationTimeout
	case errors.Is(err, ErrBroadcastFailure):
		return ErrorBroadcastFailed
	case errors.Is(err, ErrRunInProgress):
		return ErrorRunInProgress
	case errors.Is(err, ErrNoSigner):
		return ErrorNoSigner
	case errors.Is(err, ErrInvalidConfig):
		return ErrorInvalidConfig
	default:
		return ErrorInternal
	}
}
