// Package keychain stores P-256 private keys under human-readable labels.
//
// A CredentialStore maps (label, kind) to a private key and delegates
// persistence to a Backend:
//   - SystemBackend: macOS Keychain generic passwords (darwin only)
//   - DirBackend: one 0600 file per credential in a 0700 directory
//   - KeyringBackend: Secret Service / Windows Credential Manager
//   - MemoryBackend: process-local map, for tests
//
// Keys are persisted in their X9.63 encoding (04 || X || Y || D) so that a
// key written by one process can be read back by another. Keychain items are
// scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly: never synced to
// iCloud, never available when the machine is locked.
package keychain

import (
	"errors"
	"fmt"
)

// DefaultService is the service attribute shared by all keystore credentials.
const DefaultService = "com.keystore"

// KeyKind distinguishes key-agreement keys from signing keys.
type KeyKind string

const (
	KindKeyAgreement KeyKind = "agreement"
	KindSigning      KeyKind = "signing"
)

// Valid reports whether k is a known kind.
func (k KeyKind) Valid() bool {
	return k == KindKeyAgreement || k == KindSigning
}

func (k KeyKind) String() string { return string(k) }

// ParseKeyKind parses the textual form of a kind. "ecdh" and "ecdsa" are
// accepted as aliases.
func ParseKeyKind(s string) (KeyKind, error) {
	switch s {
	case "agreement", "ecdh":
		return KindKeyAgreement, nil
	case "signing", "ecdsa":
		return KindSigning, nil
	}
	return "", fmt.Errorf("%w: unknown key kind %q", ErrInvalidArgument, s)
}

// Accessibility mirrors the Keychain accessibility policy applied to a query.
type Accessibility int

const (
	// AccessibleWhenUnlockedThisDeviceOnly: usable only while the device
	// or session is unlocked, never migrated to another device.
	AccessibleWhenUnlockedThisDeviceOnly Accessibility = iota
)

// Query addresses a single credential in a Backend. It is built per
// operation and never persisted.
type Query struct {
	Service    string
	Label      string
	Kind       KeyKind
	Accessible Accessibility
}

// Account is the backend account name for the query: "<kind>/<label>".
func (q Query) Account() string {
	return string(q.Kind) + "/" + q.Label
}

// Backend errors. Backends wrap these with %w so callers can classify with
// errors.Is.
var (
	// ErrNotFound is returned when no credential matches. It is the only
	// absence outcome and is never wrapped in *Error.
	ErrNotFound = errors.New("credential not found")

	ErrAlreadyExists = errors.New("credential already exists")
	ErrDenied        = errors.New("access denied")
	ErrUnavailable   = errors.New("backend unavailable")
)

// Backend persists canonical key bytes addressed by a Query.
//
// Add must fail atomically with ErrAlreadyExists when a credential for the
// query is already present; CredentialStore relies on it to settle races
// between concurrent writers.
type Backend interface {
	Add(q Query, data []byte) error
	Find(q Query) ([]byte, error)
	Remove(q Query) error
}

// Entry identifies a stored credential without its key material.
type Entry struct {
	Label string
	Kind  KeyKind
}

// Lister is implemented by backends that can enumerate their credentials.
type Lister interface {
	List(service string) ([]Entry, error)
}

// splitAccount reverses Query.Account.
func splitAccount(account string) (Entry, bool) {
	for i := 0; i < len(account); i++ {
		if account[i] == '/' {
			kind := KeyKind(account[:i])
			if !kind.Valid() || i == len(account)-1 {
				return Entry{}, false
			}
			return Entry{Label: account[i+1:], Kind: kind}, true
		}
	}
	return Entry{}, false
}
