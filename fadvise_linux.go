//go:build linux

package hashindex

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseRandom tells the kernel that f is read at scattered offsets, which
// disables readahead for lookup handles. Best-effort: errors are ignored.
func adviseRandom(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}

// adviseSequential enables aggressive readahead for a handle that is about
// to be scanned front to back, as Verify does. Best-effort.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
