package stack

import (
	"bytes"
	"io"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/infinint"
)

// terminatorMagic is the fixed byte sequence marking the very end of an
// archive slice, sought from end-of-file on read (spec §4.1, §6).
var terminatorMagic = []byte("DARGO-END")

// Terminator is the top-most file-oriented layer: on Terminate it writes
// the trailer (archive header duplicated + catalogue offset) followed by
// the terminator magic (spec §6: "[archive trailer] [terminator magic]").
type Terminator struct {
	below          Layer
	mode           Mode
	header         Header
	catalogueOffset int64
	lax            bool
}

// NewTerminator wraps below. header is written verbatim into the trailer;
// SetCatalogueOffset must be called before Terminate on write mode.
func NewTerminator(below Layer, header Header, mode Mode, lax bool) *Terminator {
	return &Terminator{below: below, mode: mode, header: header, lax: lax}
}

func (t *Terminator) Label() string { return "terminator" }
func (t *Terminator) Mode() Mode    { return t.mode }
func (t *Terminator) Below() Layer  { return t.below }

// SetCatalogueOffset records where the catalogue dump begins, for the
// trailer.
func (t *Terminator) SetCatalogueOffset(off int64) { t.catalogueOffset = off }

func (t *Terminator) Read(p []byte) (int, error)  { return t.below.Read(p) }
func (t *Terminator) Write(p []byte) (int, error) { return t.below.Write(p) }

func (t *Terminator) Skip(pos int64) error       { return t.below.Skip(pos) }
func (t *Terminator) SkipRelative(d int64) error { return t.below.SkipRelative(d) }
func (t *Terminator) SkipToEOF() error           { return t.below.SkipToEOF() }
func (t *Terminator) Skippable(dir Direction, amount int64) bool {
	return t.below.Skippable(dir, amount)
}
func (t *Terminator) Position() (int64, error) { return t.below.Position() }
func (t *Terminator) SyncWrite() error         { return t.below.SyncWrite() }
func (t *Terminator) FlushRead() error         { return t.below.FlushRead() }

// Terminate writes the trailer and terminator magic, strictly last in
// archive creation order (spec §5: "the trailer is written strictly last").
func (t *Terminator) Terminate() error {
	if t.mode == ReadOnly {
		return nil
	}
	var buf bytes.Buffer
	if err := t.header.Encode(&buf); err != nil {
		return direrr.New(direrr.Hardware, "stack.Terminator.Terminate", err)
	}
	if err := infinint.Encode(&buf, infinint.FromUint64(uint64(t.catalogueOffset))); err != nil {
		return direrr.New(direrr.Hardware, "stack.Terminator.Terminate", err)
	}
	buf.Write(terminatorMagic)
	if _, err := t.below.Write(buf.Bytes()); err != nil {
		return direrr.New(direrr.Hardware, "stack.Terminator.Terminate", err)
	}
	return nil
}

// TrailerInfo is the parsed trailer.
type TrailerInfo struct {
	Header          Header
	CatalogueOffset int64
}

// LocateTrailer seeks from end-of-file to find and parse the trailer (spec
// §4.1: "the terminator is located by seeking from end-of-file"). totalSize
// is the logical size of the archive stream as reported by the layer below
// (e.g. the slicer after SkipToEOF). If the terminator magic is missing and
// lax is true, ErrMissingTerminator is returned so the caller can fall back
// to a sequential tape-mark scan (repair filter).
func LocateTrailer(below Layer, totalSize int64, lax bool) (TrailerInfo, error) {
	// Read a generous tail window and search backward for the magic; the
	// trailer's own size is variable (slice layout is optional), so we
	// cannot compute an exact offset without scanning.
	const maxTail = 1 << 20
	tailLen := totalSize
	if tailLen > maxTail {
		tailLen = maxTail
	}
	if err := below.Skip(totalSize - tailLen); err != nil {
		return TrailerInfo{}, direrr.New(direrr.Hardware, "stack.LocateTrailer", err)
	}
	tail := make([]byte, tailLen)
	if _, err := io.ReadFull(below, tail); err != nil && err != io.EOF {
		return TrailerInfo{}, direrr.New(direrr.Hardware, "stack.LocateTrailer", err)
	}
	idx := bytes.LastIndex(tail, terminatorMagic)
	if idx < 0 {
		if lax {
			return TrailerInfo{}, ErrMissingTerminator
		}
		return TrailerInfo{}, direrr.Newf(direrr.Data, "stack.LocateTrailer", "terminator magic not found")
	}
	// Re-seek to the start of the trailer region and decode it forward;
	// since header/catalogue-offset lengths are variable, re-parse from
	// the start of the tail window up to idx.
	r := bytes.NewReader(tail[:idx])
	return parseTrailerFrom(r)
}

// ErrMissingTerminator signals the terminator was not found; lax-mode
// callers (the repair filter) fall back to a sequential scan.
var ErrMissingTerminator = direrr.Newf(direrr.Data, "stack.LocateTrailer", "terminator missing")

func parseTrailerFrom(r io.Reader) (TrailerInfo, error) {
	// The trailer is a duplicate header followed by the catalogue offset;
	// since a single tail window may contain leftover catalogue bytes
	// before the trailer begins, we scan for the first position at which
	// DecodeHeader succeeds and the remaining bytes parse as a clean
	// infinint, trying successive offsets. This mirrors the source
	// engine's own trailer recovery approach of scanning rather than
	// seeking to a precomputed fixed offset, since the trailer's encoded
	// size is itself variable (optional slice layout/KDF params).
	data, err := io.ReadAll(r)
	if err != nil {
		return TrailerInfo{}, direrr.New(direrr.Hardware, "stack.parseTrailerFrom", err)
	}
	for start := 0; start < len(data); start++ {
		br := bytes.NewReader(data[start:])
		h, err := DecodeHeader(br)
		if err != nil {
			continue
		}
		n, err := infinint.Decode(br)
		if err != nil {
			continue
		}
		off, ok := n.Uint64()
		if !ok {
			continue
		}
		if br.Len() != 0 {
			continue
		}
		return TrailerInfo{Header: h, CatalogueOffset: int64(off)}, nil
	}
	return TrailerInfo{}, direrr.Newf(direrr.Data, "stack.parseTrailerFrom", "could not locate a valid trailer in tail window")
}
