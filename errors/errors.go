// Package errors defines all exported error sentinels for the hashindex library.
//
// This is the single source of truth for error values. The root hashindex
// package and the collaborator packages (split, jsonkey) import from here,
// so errors.Is checks work across package boundaries.
package errors

import "errors"

// Build errors
var (
	ErrBuilderClosed  = errors.New("hashindex: builder is closed")
	ErrChainOverflow  = errors.New("hashindex: bucket chain exceeds 255 entries")
	ErrRecordTooLarge = errors.New("hashindex: record length exceeds 32-bit range")
)

// Index errors
var (
	ErrTruncatedFile     = errors.New("hashindex: index file is truncated")
	ErrCorruptedIndex    = errors.New("hashindex: index data is corrupted")
	ErrIndexNotFinalized = errors.New("hashindex: index was not finalized (created_at is zero)")
)

// Reader errors
var (
	ErrReaderClosed    = errors.New("hashindex: reader is closed")
	ErrInvalidChannels = errors.New("hashindex: channel count must be at least 1")
)
