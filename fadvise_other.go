//go:build !linux

package hashindex

import "os"

// adviseRandom is a no-op on non-Linux platforms.
func adviseRandom(f *os.File) {}

// adviseSequential is a no-op on non-Linux platforms.
func adviseSequential(f *os.File) {}
