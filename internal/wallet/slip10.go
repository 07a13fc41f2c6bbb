package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/config"
)

const (
	slip10Curve    = "ed25519 seed"
	hardenedOffset = uint32(0x80000000)
)

// slip10Key holds a SLIP-10 ed25519 key (private key seed + chain code).
type slip10Key struct {
	key       []byte // 32 bytes, raw ed25519 seed
	chainCode []byte // 32 bytes
}

// DeriveKey derives the Solana keypair at m/44'/501'/index'/0', the path
// Phantom and Solflare use for account index.
func DeriveKey(seed []byte, index uint32) (solana.PrivateKey, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("seed too short (%d bytes): %w", len(seed), config.ErrKeyDerivation)
	}

	current := slip10Master(seed)
	for _, seg := range []uint32{44, 501, index, 0} {
		current = slip10DeriveChild(current, seg+hardenedOffset)
	}

	key := solana.PrivateKey(ed25519.NewKeyFromSeed(current.key))

	slog.Debug("derived signing key",
		"path", derivationPath(index),
		"address", key.PublicKey().String(),
	)
	return key, nil
}

func slip10Master(seed []byte) slip10Key {
	mac := hmac.New(sha512.New, []byte(slip10Curve))
	mac.Write(seed)
	I := mac.Sum(nil)
	return slip10Key{key: I[:32], chainCode: I[32:]}
}

// slip10DeriveChild performs SLIP-10 hardened child key derivation for ed25519.
// data = 0x00 || parent_key (32 bytes) || index (4 bytes big-endian)
func slip10DeriveChild(parent slip10Key, index uint32) slip10Key {
	data := make([]byte, 0, 37)
	data = append(data, 0x00)
	data = append(data, parent.key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, parent.chainCode)
	mac.Write(data)
	I := mac.Sum(nil)

	return slip10Key{key: I[:32], chainCode: I[32:]}
}

func derivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/501'/%d'/0'", index)
}
