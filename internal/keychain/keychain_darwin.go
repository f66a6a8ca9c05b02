//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemBackend stores credentials as generic passwords in the macOS
// Keychain. The account attribute is "<kind>/<label>".
type SystemBackend struct{}

// NewSystemBackend returns the macOS Keychain backend. fallbackDir is only
// used on platforms without a Keychain.
func NewSystemBackend(fallbackDir string) Backend {
	return &SystemBackend{}
}

// NewKeychainBackend returns the macOS Keychain backend.
func NewKeychainBackend() (Backend, error) {
	return &SystemBackend{}, nil
}

func (b *SystemBackend) Add(q Query, data []byte) error {
	item := gokeychain.NewGenericPassword(
		q.Service,
		q.Account(),
		fmt.Sprintf("keystore: %s", q.Account()),
		data,
		"",
	)
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(accessible(q.Accessible))

	if err := gokeychain.AddItem(item); err != nil {
		return fmt.Errorf("keychain add %q: %w", q.Account(), classify(err))
	}
	return nil
}

func (b *SystemBackend) Find(q Query) ([]byte, error) {
	data, err := gokeychain.GetGenericPassword(q.Service, q.Account(), "", "")
	if err != nil {
		return nil, fmt.Errorf("keychain get %q: %w", q.Account(), classify(err))
	}
	// GetGenericPassword reports a missing item as nil data.
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q.Account())
	}
	return data, nil
}

func (b *SystemBackend) Remove(q Query) error {
	if err := gokeychain.DeleteGenericPasswordItem(q.Service, q.Account()); err != nil {
		return fmt.Errorf("keychain delete %q: %w", q.Account(), classify(err))
	}
	return nil
}

func (b *SystemBackend) List(service string) ([]Entry, error) {
	accounts, err := gokeychain.GetGenericPasswordAccounts(service)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain list: %w", classify(err))
	}
	entries := make([]Entry, 0, len(accounts))
	for _, a := range accounts {
		if e, ok := splitAccount(a); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// accessible maps the query policy. AccessibleWhenUnlockedThisDeviceOnly is
// currently the only policy, so unknown values get it too.
func accessible(Accessibility) gokeychain.Accessible {
	return gokeychain.AccessibleWhenUnlockedThisDeviceOnly
}

// classify joins a Security framework status with the matching backend
// sentinel, keeping the original status in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, gokeychain.ErrorDuplicateItem):
		return errors.Join(ErrAlreadyExists, err)
	case errors.Is(err, gokeychain.ErrorAuthFailed),
		errors.Is(err, gokeychain.ErrorInteractionNotAllowed):
		return errors.Join(ErrDenied, err)
	case errors.Is(err, gokeychain.ErrorNotAvailable),
		errors.Is(err, gokeychain.ErrorNoSuchKeychain):
		return errors.Join(ErrUnavailable, err)
	}
	return errors.Join(ErrUnavailable, err)
}
