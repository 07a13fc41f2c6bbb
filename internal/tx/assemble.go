package tx

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
)

// Assemble compiles instructions into an unsigned legacy transaction paid by payer.
func Assemble(payer solana.PublicKey, ixs []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	if len(ixs) == 0 {
		return nil, fmt.Errorf("assemble transaction: no instructions")
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

// SerializedSize returns the wire size of tx once every required signature is
// attached: compact-u16 signature count, 64 bytes per signature, then the message.
func SerializedSize(tx *solana.Transaction) (int, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("serialize message: %w", err)
	}
	sigs := int(tx.Message.Header.NumRequiredSignatures)
	return compactU16Len(sigs) + sigs*64 + len(msg), nil
}

// EstimateSize is the serialized size of ixs in a transaction paid by payer.
// The blockhash is a placeholder; it does not affect the size.
func EstimateSize(payer solana.PublicKey, ixs []solana.Instruction) (int, error) {
	tx, err := Assemble(payer, ixs, solana.Hash{})
	if err != nil {
		return 0, err
	}
	return SerializedSize(tx)
}

// FitsLimit reports whether ixs fit in one transaction.
func FitsLimit(payer solana.PublicKey, ixs []solana.Instruction) (bool, error) {
	size, err := EstimateSize(payer, ixs)
	if err != nil {
		return false, err
	}
	return size <= config.SOLMaxTxSize, nil
}

// CheckSize returns ErrSOLTxTooLarge when tx exceeds the packet limit.
func CheckSize(tx *solana.Transaction) error {
	size, err := SerializedSize(tx)
	if err != nil {
		return err
	}
	if size > config.SOLMaxTxSize {
		return fmt.Errorf("%w: %d bytes", config.ErrSOLTxTooLarge, size)
	}
	return nil
}

func compactU16Len(v int) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	default:
		return 3
	}
}
