// Package stack implements the layered byte-stream stack described in
// spec.md §4.1: an ordered sequence of bidirectional random-access byte
// streams running from raw slices on storage (bottom) to cleartext
// uncompressed bytes (top) — slicer, hash-tee, cipher, compressor,
// tape-mark (escape) framer, terminator. Adapted from the chained-reader
// idiom in the teacher's backend/crypt (cipher wraps an io.Reader which
// wraps the underlying object) and backend/chunker (splitting a logical
// stream across physical chunks), generalized here into a labeled,
// navigable stack rather than a single fixed chain.
package stack

import "io"

// Mode is a layer's access mode.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

// Compatible reports whether a layer opened in mode `upper` may be pushed
// on top of a layer whose own mode is `lower` (the composition rule from
// spec.md §4.1: a read-write layer may sit over a read-only layer only if
// narrowed to read).
func Compatible(lower, upper Mode) bool {
	if lower == ReadWrite {
		return true
	}
	return lower == upper
}

// Direction is used by Skippable to ask whether a relative skip is possible
// without a physical seek (e.g. a cipher layer mid-block cannot skip
// backward without re-deriving keystream).
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Layer is one element of the byte-stream stack.
type Layer interface {
	io.Reader
	io.Writer

	// Label identifies this layer for by-label lookup/navigation.
	Label() string
	// Mode reports this layer's access mode.
	Mode() Mode

	// Skip moves to an absolute logical position.
	Skip(pos int64) error
	// SkipRelative moves by a signed delta from the current position.
	SkipRelative(delta int64) error
	// SkipToEOF moves to the logical end of the stream.
	SkipToEOF() error
	// Skippable reports whether a skip of amount in the given direction is
	// possible without an expensive or impossible re-derivation (e.g. false
	// for a compressor mid-block, or a cipher layer at a non-block-aligned
	// offset).
	Skippable(dir Direction, amount int64) bool
	// Position returns the current logical position.
	Position() (int64, error)

	// SyncWrite flushes buffered writes down through this layer.
	SyncWrite() error
	// FlushRead discards any read-ahead buffering, so a subsequent Skip
	// re-reads from the new position instead of serving stale buffered
	// bytes.
	FlushRead() error
	// Terminate finalizes the layer (writes trailers, checksums, etc). It
	// is idempotent-safe to call at most once; calling it twice is a
	// Libcall-kind bug at the caller's discretion, not enforced here.
	Terminate() error
}

// Below is implemented by layers that wrap another layer, used for
// label-addressable neighbor navigation.
type Below interface {
	Below() Layer
}
