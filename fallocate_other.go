//go:build !linux && !darwin

package hashindex

import "os"

// fallocateFile sets the index file length. Disk blocks are not reserved on
// these platforms.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}
