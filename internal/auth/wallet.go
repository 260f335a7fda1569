package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key format")
	ErrInvalidSignature = errors.New("invalid signature format")
	ErrSignatureFailed  = errors.New("invalid signature")
)

// VerifyWalletSignature checks an ed25519 signature over message made by the
// key behind a base58 wallet address. Signatures may be base58 or hex.
func VerifyWalletSignature(walletAddress, message, signature string) error {
	pubKey, err := base58.Decode(walletAddress)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}

	// Wallets usually return base58; some clients send hex
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		sig, err = hex.DecodeString(signature)
		if err != nil || len(sig) != ed25519.SignatureSize {
			return ErrInvalidSignature
		}
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig) {
		return ErrSignatureFailed
	}
	return nil
}
