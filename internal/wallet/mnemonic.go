package wallet

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/Fantasim/solmigrate/internal/config"
)

// ValidateMnemonic validates a BIP-39 phrase of 12 or 24 words, the lengths
// wallet apps export.
func ValidateMnemonic(mnemonic string) error {
	words := strings.Fields(mnemonic)
	if len(words) != 12 && len(words) != 24 {
		return fmt.Errorf("expected 12 or 24-word mnemonic, got %d words: %w", len(words), config.ErrInvalidMnemonic)
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("validate mnemonic: %w", config.ErrInvalidMnemonic)
	}

	slog.Debug("mnemonic validated", "wordCount", len(words))
	return nil
}

// MnemonicToSeed converts a BIP-39 mnemonic to a 64-byte seed (empty passphrase).
func MnemonicToSeed(mnemonic string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w: %v", config.ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// ReadMnemonicFromFile reads a mnemonic from a file, trims whitespace, and validates it.
func ReadMnemonicFromFile(path string) (string, error) {
	slog.Info("reading mnemonic from file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read mnemonic file %q: %w", path, err)
	}

	mnemonic := strings.Join(strings.Fields(string(data)), " ")
	if mnemonic == "" {
		return "", fmt.Errorf("mnemonic file %q is empty: %w", path, config.ErrInvalidMnemonic)
	}

	if err := ValidateMnemonic(mnemonic); err != nil {
		return "", fmt.Errorf("mnemonic file %q: %w", path, err)
	}
	return mnemonic, nil
}
