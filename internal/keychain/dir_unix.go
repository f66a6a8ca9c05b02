//go:build unix

package keychain

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkFile refuses key files that another user owns or that grant group or
// other access.
func checkFile(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return err
	}
	if uid := unix.Geteuid(); int(st.Uid) != uid {
		return fmt.Errorf("%w: owned by uid %d, not %d", ErrDenied, st.Uid, uid)
	}
	if st.Mode&0o077 != 0 {
		return fmt.Errorf("%w: got mode %04o, want 0600", ErrDenied, st.Mode&0o777)
	}
	return nil
}
