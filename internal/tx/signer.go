package tx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
)

// Signer signs and broadcasts transactions for one owner.
type Signer interface {
	PublicKey() solana.PublicKey
	// SignAndSend signs tx, submits it and waits for confirmation.
	// Failures wrap ErrSigningRejected or ErrBroadcastFailure.
	SignAndSend(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error)
}

// Broadcaster is the ledger surface a signer submits through.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (ledger.SignatureStatus, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// KeypairSigner signs with a local ed25519 key.
type KeypairSigner struct {
	key          solana.PrivateKey
	client       Broadcaster
	timeout      time.Duration
	pollInterval time.Duration
}

// NewKeypairSigner creates a signer for key that submits through client.
func NewKeypairSigner(key solana.PrivateKey, client Broadcaster) *KeypairSigner {
	return &KeypairSigner{
		key:          key,
		client:       client,
		timeout:      config.SOLConfirmationTimeout,
		pollInterval: config.SOLConfirmationPollInterval,
	}
}

// PublicKey returns the signing account.
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// SignAndSend signs, submits and confirms tx.
func (s *KeypairSigner) SignAndSend(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	owner := s.key.PublicKey()
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(owner) {
			return &s.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", config.ErrSigningRejected, err)
	}

	if err := CheckSize(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %w", config.ErrBroadcastFailure, err)
	}

	sig, err := s.client.SendTransaction(ctx, tx)
	if err != nil {
		if ctx.Err() != nil {
			return solana.Signature{}, ctx.Err()
		}
		return solana.Signature{}, fmt.Errorf("%w: %w", config.ErrBroadcastFailure, err)
	}

	slog.Info("transaction broadcast", "signature", sig.String())

	if err := s.waitForConfirmation(ctx, sig, lastValidBlockHeight); err != nil {
		return sig, err
	}
	return sig, nil
}

// waitForConfirmation polls the signature status until the transaction is
// confirmed, fails, expires or the timeout elapses.
func (s *KeypairSigner) waitForConfirmation(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	signature := sig.String()
	slog.Debug("waiting for confirmation", "signature", signature)

	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for {
		status, err := s.client.GetSignatureStatus(pollCtx, sig)
		if err != nil {
			slog.Warn("confirmation poll error", "signature", signature, "error", err)
		} else if status.Found {
			if status.Err != "" {
				slog.Error("transaction failed on-chain",
					"signature", signature,
					"error", status.Err,
				)
				return fmt.Errorf("%w: %w: %s", config.ErrBroadcastFailure, config.ErrSOLTxFailed, status.Err)
			}
			if status.Confirmed {
				slog.Info("transaction confirmed", "signature", signature)
				return nil
			}
		} else if lastValidBlockHeight > 0 {
			height, err := s.client.GetBlockHeight(pollCtx)
			if err == nil && height > lastValidBlockHeight {
				slog.Warn("blockhash expired before confirmation",
					"signature", signature,
					"blockHeight", height,
					"lastValidBlockHeight", lastValidBlockHeight,
				)
				return config.NewTransientError(fmt.Errorf("%w: %w: signature %s", config.ErrBroadcastFailure, config.ErrSOLBlockhashExpired, signature))
			}
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w: signature %s", config.ErrBroadcastFailure, config.ErrSOLConfirmationTimeout, signature)
		case <-time.After(s.pollInterval):
			slog.Debug("transaction not confirmed, polling again", "signature", signature)
		}
	}
}
