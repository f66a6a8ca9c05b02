//go:build !darwin

package keychain

import "fmt"

// NewSystemBackend returns a DirBackend rooted at fallbackDir (DefaultDir
// when empty) on non-darwin platforms. The macOS Keychain is not available
// outside of macOS.
func NewSystemBackend(fallbackDir string) Backend {
	if fallbackDir == "" {
		fallbackDir = DefaultDir()
	}
	return NewDirBackend(fallbackDir)
}

// NewKeychainBackend fails outside macOS.
func NewKeychainBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: macOS Keychain is only available on darwin", ErrUnavailable)
}
