package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/benaskins/keystore/internal/keychain"
	"github.com/go-jose/go-jose/v4"
)

// publicJWK renders the public half of key as a JSON Web Key. The key ID is
// the RFC 7638 SHA-256 thumbprint.
func publicJWK(key *keychain.PrivateKey) ([]byte, error) {
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), key.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	jwk := jose.JSONWebKey{Key: pub}
	switch key.Kind() {
	case keychain.KindSigning:
		jwk.Use = "sig"
		jwk.Algorithm = string(jose.ES256)
	default:
		jwk.Use = "enc"
		jwk.Algorithm = string(jose.ECDH_ES)
	}

	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("computing thumbprint: %w", err)
	}
	jwk.KeyID = base64.RawURLEncoding.EncodeToString(thumb)

	return json.Marshal(jwk)
}
