// Package entrepot abstracts the storage location that holds archive
// slices: a local directory, or a remote SFTP/FTP server. The byte-stream
// stack's bottom layer (the slicer) talks only to this interface, never to
// os.* or an SFTP client directly, so the rest of the engine is agnostic to
// where slices live — exactly the separation the teacher's backend/local,
// backend/sftp and backend/ftp packages draw between fs.Fs and the wire
// protocol underneath it.
package entrepot

import (
	"context"
	"io"
)

// OpenMode selects the access mode for Open.
type OpenMode int

const (
	// ReadOnly opens an existing slice for reading.
	ReadOnly OpenMode = iota
	// WriteOnly creates or truncates a slice for writing.
	WriteOnly
	// ReadWrite opens a slice for both reading and writing.
	ReadWrite
)

// Handle is a single open slice file. It exposes the minimal surface the
// byte-stream stack needs: random access reads/writes and a close.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	// Truncate resizes the handle's underlying storage, used when an
	// in-progress slice must be trimmed after a deferred cancellation.
	Truncate(size int64) error
	// Sync flushes any buffered writes to stable storage.
	Sync() error
}

// Entrepot is the storage backend consumed by the byte-stream stack (spec §6).
type Entrepot interface {
	// Open opens path in mode. permission is applied only when creating a
	// new file. failIfExists rejects an existing file instead of
	// truncating/opening it; erase forces truncation on open.
	Open(ctx context.Context, path string, mode OpenMode, permission uint32, failIfExists, erase bool) (Handle, error)
	// Unlink removes path; it is not an error if path does not exist.
	Unlink(ctx context.Context, path string) error
	// List returns the names present at the entrepot's root (used to
	// discover existing slices of a given basename).
	List(ctx context.Context) ([]string, error)
	// ChangeOwnership sets owner/group on path, where supported; a no-op
	// returning nil on backends with no ownership concept (e.g. FTP).
	ChangeOwnership(ctx context.Context, path string, user, group string) error
	// ChangePermission sets the permission bits on path.
	ChangePermission(ctx context.Context, path string, permission uint32) error
	// Root returns a human-readable identifier for logging (directory path
	// or "sftp://host/path").
	Root() string
}
