package keychain

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricKeySize is the length of keys returned by DeriveKey.
const SymmetricKeySize = 32

// Crypto provides the elliptic-curve primitives the store depends on.
type Crypto interface {
	GenerateKey(kind KeyKind) (*PrivateKey, error)
	SharedSecret(local *ecdh.PrivateKey, remote *ecdh.PublicKey) ([]byte, error)
	DeriveKey(secret []byte) ([]byte, error)
}

// P256Crypto implements Crypto with the standard library P-256 curve and
// HKDF-SHA256.
type P256Crypto struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

func (c P256Crypto) rand() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

func (c P256Crypto) GenerateKey(kind KeyKind) (*PrivateKey, error) {
	switch kind {
	case KindKeyAgreement:
		k, err := ecdh.P256().GenerateKey(c.rand())
		if err != nil {
			return nil, fmt.Errorf("generating P-256 agreement key: %w", err)
		}
		return NewAgreementKey(k)
	case KindSigning:
		k, err := ecdsa.GenerateKey(elliptic.P256(), c.rand())
		if err != nil {
			return nil, fmt.Errorf("generating P-256 signing key: %w", err)
		}
		return NewSigningKey(k)
	}
	return nil, fmt.Errorf("%w: unknown key kind %q", ErrInvalidArgument, kind)
}

func (c P256Crypto) SharedSecret(local *ecdh.PrivateKey, remote *ecdh.PublicKey) ([]byte, error) {
	return local.ECDH(remote)
}

// DeriveKey runs HKDF-SHA256 over secret with an empty salt and empty info.
func (c P256Crypto) DeriveKey(secret []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, nil, nil)
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
