//go:build !unix

package keychain

import "os"

// checkFile only checks existence; file ACLs are not inspected on this
// platform.
func checkFile(path string) error {
	_, err := os.Stat(path)
	return err
}
