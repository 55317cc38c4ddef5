//go:build darwin

package hashindex

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for the index file with F_PREALLOCATE
// and sets its length. If the reservation is refused the file is only
// truncated to size.
func fallocateFile(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size,
	}
	_ = unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	return unix.Ftruncate(int(file.Fd()), size)
}
