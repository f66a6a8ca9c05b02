package keychain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores credentials in the OS keyring (Secret Service on
// Linux, Credential Manager on Windows, Keychain on macOS) via go-keyring.
// Payloads are base64 encoded because the keyring stores strings.
//
// The keyring has no add-if-absent primitive. Add is serialized within the
// process; two processes adding the same credential concurrently can both
// succeed, and the later write wins.
type KeyringBackend struct {
	mu sync.Mutex
}

// NewKeyringBackend returns a backend over the default OS keyring.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{}
}

func (b *KeyringBackend) Add(q Query, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := keyring.Get(q.Service, q.Account())
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, q.Account())
	case !errors.Is(err, keyring.ErrNotFound):
		return fmt.Errorf("keyring get %q: %w", q.Account(), keyringError(err))
	}

	if err := keyring.Set(q.Service, q.Account(), base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("keyring set %q: %w", q.Account(), keyringError(err))
	}
	return nil
}

// Find returns the decoded payload. A value that is not valid base64 is
// returned as-is so that it fails key decoding rather than looking absent.
func (b *KeyringBackend) Find(q Query) ([]byte, error) {
	val, err := keyring.Get(q.Service, q.Account())
	if err != nil {
		return nil, fmt.Errorf("keyring get %q: %w", q.Account(), keyringError(err))
	}
	data, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return []byte(val), nil
	}
	return data, nil
}

func (b *KeyringBackend) Remove(q Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := keyring.Delete(q.Service, q.Account()); err != nil {
		return fmt.Errorf("keyring delete %q: %w", q.Account(), keyringError(err))
	}
	return nil
}

func keyringError(err error) error {
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return errors.Join(ErrUnavailable, err)
	}
	return errors.Join(ErrUnavailable, err)
}
