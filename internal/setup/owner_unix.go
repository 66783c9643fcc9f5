//go:build unix

package setup

import (
	"golang.org/x/sys/unix"
)

// fileOwner returns the uid owning path.
func fileOwner(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return int(st.Uid), nil
}

// chownUser hands path to uid, keeping its group.
func chownUser(path string, uid int) error {
	return unix.Chown(path, uid, -1)
}
