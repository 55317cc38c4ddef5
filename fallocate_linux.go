//go:build linux

package hashindex

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for the index file and sets its length,
// so a full disk fails here instead of as SIGBUS while writing through the map.
// Filesystems without fallocate support (NFS, some FUSE mounts) only get the
// ftruncate.
func fallocateFile(file *os.File, size int64) error {
	fd := int(file.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err != nil && err != unix.EOPNOTSUPP && err != unix.ENOSYS {
		return err
	}
	return unix.Ftruncate(fd, size)
}
