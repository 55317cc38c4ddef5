//go:build !linux

package hashindex

// prefaultRegion is a no-op outside Linux.
func prefaultRegion(data []byte) {}
