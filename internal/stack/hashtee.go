package stack

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	gohash "hash"

	"github.com/dargo-project/dargo/internal/direrr"
)

// HashAlgo is one of the digest algorithms the hash-tee layer supports
// (spec §4.1). Stdlib implementations are used directly — there is no
// ecosystem replacement worth adding for MD5/SHA1/SHA512, the teacher's own
// fs/hash package is itself a thin wrapper over these same stdlib
// primitives.
type HashAlgo string

const (
	HashMD5    HashAlgo = "md5"
	HashSHA1   HashAlgo = "sha1"
	HashSHA512 HashAlgo = "sha512"
)

func newHasher(algo HashAlgo) (gohash.Hash, error) {
	switch algo {
	case HashMD5:
		return md5.New(), nil
	case HashSHA1:
		return sha1.New(), nil
	case HashSHA512:
		return sha512.New(), nil
	default:
		return nil, direrr.Newf(direrr.Range, "stack.newHasher", "unknown hash algorithm %q", algo)
	}
}

// SidecarWriter persists the hash-tee's sidecar digest file; abstracted so
// the layer doesn't depend directly on an entrepot import cycle.
type SidecarWriter func(sliceName string, contents []byte) error

// HashTee computes algo incrementally over every byte that passes through
// it and, on Terminate, writes a sidecar file `<slice-name>.<hash>`
// containing the hex digest plus filename, in the format standard hash
// tools (md5sum/sha1sum/sha512sum) recognize (spec §4.1).
type HashTee struct {
	below    Layer
	algo     HashAlgo
	hasher   gohash.Hash
	sliceName string
	sidecar  SidecarWriter
	mode     Mode
	written  bool
}

// NewHashTee wraps below with a hash-tee layer.
func NewHashTee(below Layer, algo HashAlgo, sliceName string, sidecar SidecarWriter) (*HashTee, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, err
	}
	return &HashTee{below: below, algo: algo, hasher: h, sliceName: sliceName, sidecar: sidecar, mode: below.Mode()}, nil
}

func (h *HashTee) Label() string  { return "hashtee" }
func (h *HashTee) Mode() Mode     { return h.mode }
func (h *HashTee) Below() Layer   { return h.below }

func (h *HashTee) Read(p []byte) (int, error) {
	n, err := h.below.Read(p)
	if n > 0 {
		h.hasher.Write(p[:n])
	}
	return n, err
}

func (h *HashTee) Write(p []byte) (int, error) {
	n, err := h.below.Write(p)
	if n > 0 {
		h.hasher.Write(p[:n])
	}
	return n, err
}

func (h *HashTee) Skip(pos int64) error {
	// A seek invalidates incremental hashing's sequential guarantee; the
	// hash-tee is only ever used as the bottom-adjacent layer over a
	// strictly sequential writer/reader (the filter pipeline never seeks
	// mid-entry-data), so this is a Libcall if it ever happens.
	return direrr.Newf(direrr.Libcall, "stack.HashTee.Skip", "cannot seek within a hash-tee layer")
}

func (h *HashTee) SkipRelative(delta int64) error {
	if delta == 0 {
		return nil
	}
	return h.Skip(-1)
}

func (h *HashTee) SkipToEOF() error { return h.below.SkipToEOF() }

func (h *HashTee) Skippable(dir Direction, amount int64) bool {
	return amount == 0
}

func (h *HashTee) Position() (int64, error) { return h.below.Position() }

func (h *HashTee) SyncWrite() error { return h.below.SyncWrite() }
func (h *HashTee) FlushRead() error { return h.below.FlushRead() }

// Terminate writes the sidecar digest file exactly once.
func (h *HashTee) Terminate() error {
	if h.written || h.mode == ReadOnly {
		return nil
	}
	h.written = true
	digest := hex.EncodeToString(h.hasher.Sum(nil))
	line := fmt.Sprintf("%s  %s\n", digest, h.sliceName)
	if h.sidecar != nil {
		if err := h.sidecar(h.sliceName, []byte(line)); err != nil {
			return direrr.New(direrr.Hardware, "stack.HashTee.Terminate", err)
		}
	}
	return nil
}

// Sum returns the current digest without finalizing (used by test-mode CRC
// comparisons that need the running value mid-stream).
func (h *HashTee) Sum() string {
	return hex.EncodeToString(h.hasher.Sum(nil))
}
