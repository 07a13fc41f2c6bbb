package wallet

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
)

// LoadKeypairFile reads a solana-keygen JSON keypair file.
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file %q: %w", path, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file %q holds %d bytes, expected %d: %w", path, len(key), ed25519.PrivateKeySize, config.ErrKeyDerivation)
	}
	return key, nil
}

// LoadMnemonicKey derives the signing key for account index from a mnemonic file.
func LoadMnemonicKey(path string, index uint32) (solana.PrivateKey, error) {
	mnemonic, err := ReadMnemonicFromFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, err
	}
	return DeriveKey(seed, index)
}

// LoadSigningKey returns the configured signing key: a keypair file, or a
// mnemonic file with an account index. ErrNoSigner when neither is set.
func LoadSigningKey(cfg *config.Config) (solana.PrivateKey, error) {
	switch {
	case cfg.KeypairFile != "":
		key, err := LoadKeypairFile(cfg.KeypairFile)
		if err != nil {
			return nil, err
		}
		slog.Info("signing key loaded from keypair file", "address", key.PublicKey().String())
		return key, nil

	case cfg.MnemonicFile != "":
		key, err := LoadMnemonicKey(cfg.MnemonicFile, cfg.AccountIndex)
		if err != nil {
			return nil, err
		}
		slog.Info("signing key derived from mnemonic",
			"path", derivationPath(cfg.AccountIndex),
			"address", key.PublicKey().String(),
		)
		return key, nil

	default:
		return nil, config.ErrNoSigner
	}
}
