// Package userio implements the engine's user-interaction surface: the
// four callbacks a front-end supplies for progress messages, confirmation
// pauses, and plaintext/secret prompts (spec §6), plus a SecureString type
// that wipes its backing buffer on Close.
//
// SecureString is modeled on the original engine's dedicated secu_string
// class (original_source/src/libdar/secu_string.hpp): rather than relying
// on a C++-style destructor, Close must be called explicitly once the
// secret is no longer needed. There is no Go equivalent of gcrypt's
// secure-malloc pool; this is a best-effort zeroing of an ordinary slice,
// documented as a known gap relative to the original's mlock-backed
// allocator.
package userio

import (
	"crypto/subtle"
)

// SecureString holds a secret (a passphrase) in a buffer that Close
// overwrites with zeros before releasing it.
type SecureString struct {
	buf    []byte
	closed bool
}

// NewSecureString copies b into a freshly allocated buffer owned by the
// returned SecureString; the caller remains responsible for wiping b
// itself if it was not already secret-free (e.g. read from a pipe that
// buffers independently).
func NewSecureString(b []byte) *SecureString {
	s := &SecureString{buf: make([]byte, len(b))}
	copy(s.buf, b)
	return s
}

// Bytes returns the secret's current bytes. The returned slice aliases
// SecureString's internal buffer; it must not be retained past Close.
func (s *SecureString) Bytes() []byte {
	if s.closed {
		return nil
	}
	return s.buf
}

// Len reports the secret's length in bytes.
func (s *SecureString) Len() int { return len(s.buf) }

// Equal performs a constant-time comparison against other, avoiding a
// timing side channel on secret comparison.
func (s *SecureString) Equal(other *SecureString) bool {
	if s.closed || other.closed {
		return false
	}
	return subtle.ConstantTimeCompare(s.buf, other.buf) == 1
}

// Close zeroes the backing buffer and releases it. Safe to call more
// than once.
func (s *SecureString) Close() error {
	if s.closed {
		return nil
	}
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.buf = nil
	s.closed = true
	return nil
}
