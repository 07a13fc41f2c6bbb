package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/Fantasim/solmigrate/internal/config"
)

// ValidateDestination parses a base58 address and requires it to be a point
// on the ed25519 curve, i.e. an address a keypair can sign for. Program
// derived addresses are rejected.
func ValidateDestination(address string) (solana.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: not base58: %v", config.ErrInvalidDestination, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: expected %d bytes, got %d", config.ErrInvalidDestination, solana.PublicKeyLength, len(raw))
	}
	if !solana.IsOnCurve(raw) {
		return solana.PublicKey{}, fmt.Errorf("%w: %s is not on the ed25519 curve", config.ErrInvalidDestination, address)
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// DeriveATA computes the associated token account of wallet for mint under
// the given token program.
func DeriveATA(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{wallet[:], tokenProgram[:], mint[:]},
		solana.MustPublicKeyFromBase58(config.SOLAssociatedTokenProgramID),
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return ata, nil
}
