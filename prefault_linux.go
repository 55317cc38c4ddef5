//go:build linux

package hashindex

import "golang.org/x/sys/unix"

// MADV_POPULATE_WRITE (Linux 5.14+). Older kernels answer EINVAL.
const madvPopulateWrite = 23

// prefaultRegion populates the pages of the entry array before the builder
// writes it front to back. Best-effort: every error is ignored.
func prefaultRegion(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateWrite)
}
