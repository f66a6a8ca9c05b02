package keychain

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
)

const (
	p256ScalarSize = 32
	p256PointSize  = 1 + 2*p256ScalarSize
	// X963Size is the length of a P-256 private key in X9.63 form.
	X963Size = p256PointSize + p256ScalarSize
)

// PrivateKey is a P-256 private key of a given kind. The store does not keep
// a reference to keys it returns.
type PrivateKey struct {
	kind    KeyKind
	agree   *ecdh.PrivateKey
	signing *ecdsa.PrivateKey
}

// NewAgreementKey wraps an ECDH key. Only P-256 is supported.
func NewAgreementKey(k *ecdh.PrivateKey) (*PrivateKey, error) {
	if k == nil || k.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: agreement key must be P-256", ErrInvalidArgument)
	}
	return &PrivateKey{kind: KindKeyAgreement, agree: k}, nil
}

// NewSigningKey wraps an ECDSA key. Only P-256 is supported.
func NewSigningKey(k *ecdsa.PrivateKey) (*PrivateKey, error) {
	if k == nil || k.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: signing key must be P-256", ErrInvalidArgument)
	}
	return &PrivateKey{kind: KindSigning, signing: k}, nil
}

// Kind returns the key's kind.
func (k *PrivateKey) Kind() KeyKind { return k.kind }

// ECDH returns the key-agreement key, or nil for signing keys.
func (k *PrivateKey) ECDH() *ecdh.PrivateKey { return k.agree }

// Signer returns the signing key, or nil for agreement keys.
func (k *PrivateKey) Signer() *ecdsa.PrivateKey { return k.signing }

// Bytes returns the canonical X9.63 encoding: 04 || X || Y || D.
func (k *PrivateKey) Bytes() []byte {
	pub := k.PublicKeyBytes()
	out := make([]byte, 0, X963Size)
	out = append(out, pub...)
	return append(out, k.scalar()...)
}

// PublicKeyBytes returns the uncompressed public point (04 || X || Y).
func (k *PrivateKey) PublicKeyBytes() []byte {
	if k.agree != nil {
		return k.agree.PublicKey().Bytes()
	}
	pub, err := k.signing.PublicKey.Bytes()
	if err != nil {
		// A P-256 key constructed through this package always encodes.
		panic(fmt.Sprintf("keychain: encoding public key: %v", err))
	}
	return pub
}

func (k *PrivateKey) scalar() []byte {
	if k.agree != nil {
		return k.agree.Bytes()
	}
	d, err := k.signing.Bytes()
	if err != nil {
		panic(fmt.Sprintf("keychain: encoding private scalar: %v", err))
	}
	return d
}

// Equal reports whether both keys have the same kind and canonical bytes.
func (k *PrivateKey) Equal(other *PrivateKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.kind == other.kind && bytes.Equal(k.Bytes(), other.Bytes())
}

// ParsePrivateKey decodes an X9.63 private key of the given kind. The public
// point must match the one derived from the scalar.
func ParsePrivateKey(kind KeyKind, data []byte) (*PrivateKey, error) {
	if len(data) != X963Size {
		return nil, fmt.Errorf("x9.63 key: got %d bytes, want %d", len(data), X963Size)
	}
	if data[0] != 0x04 {
		return nil, fmt.Errorf("x9.63 key: unsupported point prefix 0x%02x", data[0])
	}
	pub, d := data[:p256PointSize], data[p256PointSize:]

	var key *PrivateKey
	switch kind {
	case KindKeyAgreement:
		k, err := ecdh.P256().NewPrivateKey(d)
		if err != nil {
			return nil, fmt.Errorf("x9.63 key: %w", err)
		}
		key = &PrivateKey{kind: kind, agree: k}
	case KindSigning:
		k, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), d)
		if err != nil {
			return nil, fmt.Errorf("x9.63 key: %w", err)
		}
		key = &PrivateKey{kind: kind, signing: k}
	default:
		return nil, fmt.Errorf("%w: unknown key kind %q", ErrInvalidArgument, kind)
	}

	if !bytes.Equal(key.PublicKeyBytes(), pub) {
		return nil, fmt.Errorf("x9.63 key: public point does not match private scalar")
	}
	return key, nil
}

// ParsePublicKey decodes an uncompressed P-256 point, rejecting points that
// are not on the curve.
func ParsePublicKey(data []byte) (*ecdh.PublicKey, error) {
	return ecdh.P256().NewPublicKey(data)
}
