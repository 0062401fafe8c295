package stack

import (
	"bytes"
	"io"

	"github.com/dargo-project/dargo/internal/direrr"
)

// Mark is one of the tape-mark tags the escape layer inserts to delimit
// boundaries in the byte stream (spec §4.1), enabling sequential reading of
// a truncated or streamed archive with no catalogue at all.
type Mark byte

const (
	MarkFileHeader Mark = iota + 1
	MarkFileDataStart
	MarkFileDataEnd
	MarkEAStart
	MarkEAEnd
	MarkFSAStart
	MarkFSAEnd
	MarkCatalogueStart
	MarkDirty
	MarkChangedDuringRead
	MarkFailedBackup
	MarkCatalogueDataName
)

// escapePrefix is the fixed 5-byte sequence marking a tape-mark boundary;
// escapeByte is the reserved byte inserted after a run of plaintext that
// happens to collide with the prefix, so it is recognized on read as
// "escaped data", not a real mark.
var escapePrefix = []byte{0xFE, 0xFE, 0xFE, 0xFE, 0xFE}

const escapeByte = 0xFD

// Escape frames the byte stream with tape marks and escapes any plaintext
// collision with the mark prefix (spec §4.1).
type Escape struct {
	below Layer
	mode  Mode
	pos   int64

	// writePending holds up to len(escapePrefix)-1 bytes that might still
	// extend into a prefix match across successive Write calls.
	writePending []byte

	// unjumpable records marks that SkipToNextMark must not silently pass
	// over even when allowJumpOver is requested.
	unjumpable map[Mark]bool

	// readBuf holds bytes already read from below but not yet unescaped
	// and delivered to the caller.
	readBuf    []byte
	pendingMark Mark // set by Read when it stops at a real mark; 0 if none
}

// NewEscape wraps below with a tape-mark layer.
func NewEscape(below Layer, mode Mode) *Escape {
	return &Escape{below: below, mode: mode, unjumpable: make(map[Mark]bool)}
}

func (e *Escape) Label() string { return "escape" }
func (e *Escape) Mode() Mode    { return e.mode }
func (e *Escape) Below() Layer  { return e.below }

// RegisterUnjumpable forbids SkipToNextMark(allowJumpOver=true) from
// silently passing over mark m.
func (e *Escape) RegisterUnjumpable(m Mark) {
	e.unjumpable[m] = true
}

// WriteMark writes a real tape mark (prefix + tag byte, unescaped).
func (e *Escape) WriteMark(m Mark) error {
	if err := e.flushPending(); err != nil {
		return err
	}
	buf := append(append([]byte{}, escapePrefix...), byte(m))
	if _, err := e.below.Write(buf); err != nil {
		return direrr.New(direrr.Hardware, "stack.Escape.WriteMark", err)
	}
	e.pos += int64(len(buf))
	return nil
}

func (e *Escape) flushPending() error {
	if len(e.writePending) == 0 {
		return nil
	}
	if _, err := e.below.Write(e.writePending); err != nil {
		return direrr.New(direrr.Hardware, "stack.Escape.flushPending", err)
	}
	e.pos += int64(len(e.writePending))
	e.writePending = nil
	return nil
}

// Write escapes any plaintext collision with the mark prefix and forwards
// to below.
func (e *Escape) Write(p []byte) (int, error) {
	data := append(e.writePending, p...)
	e.writePending = nil
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		if bytes.HasPrefix(data[i:], escapePrefix) {
			out = append(out, escapePrefix...)
			out = append(out, escapeByte)
			i += len(escapePrefix)
			continue
		}
		// If the tail might be the start of a prefix match spanning the
		// next Write call, hold it back.
		if i+len(escapePrefix) > len(data) && bytes.HasPrefix(escapePrefix, data[i:]) {
			e.writePending = append(e.writePending, data[i:]...)
			break
		}
		out = append(out, data[i])
		i++
	}
	if len(out) > 0 {
		if _, err := e.below.Write(out); err != nil {
			return len(p), direrr.New(direrr.Hardware, "stack.Escape.Write", err)
		}
	}
	e.pos += int64(len(p))
	return len(p), nil
}

// Read delivers unescaped cleartext bytes into p, stopping (returning
// fewer bytes than len(p), nil error) the instant a real tape mark is
// encountered; the caller should then inspect PendingMark().
func (e *Escape) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if err := e.fill(); err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if len(e.readBuf) == 0 {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		if bytes.HasPrefix(e.readBuf, escapePrefix) {
			if len(e.readBuf) < len(escapePrefix)+1 {
				if err := e.fillMore(len(escapePrefix) + 1 - len(e.readBuf)); err != nil {
					if total > 0 {
						return total, nil
					}
					return 0, err
				}
			}
			tagByte := e.readBuf[len(escapePrefix)]
			if tagByte == escapeByte {
				// escaped data collision: emit the literal prefix bytes
				n := copy(p[total:], escapePrefix)
				total += n
				e.readBuf = e.readBuf[len(escapePrefix)+1:]
				e.pos += int64(n)
				continue
			}
			// real mark: stop here, leave it for NextMark to consume
			e.pendingMark = Mark(tagByte)
			return total, nil
		}
		n := copy(p[total:], e.readBuf)
		total += n
		e.readBuf = e.readBuf[n:]
		e.pos += int64(n)
	}
	return total, nil
}

// fill ensures readBuf has at least one byte, reading from below if empty.
func (e *Escape) fill() error {
	if len(e.readBuf) > 0 {
		return nil
	}
	return e.fillMore(4096)
}

func (e *Escape) fillMore(n int) error {
	buf := make([]byte, n)
	r, err := e.below.Read(buf)
	if r > 0 {
		e.readBuf = append(e.readBuf, buf[:r]...)
	}
	if r == 0 && err != nil {
		return err
	}
	return nil
}

// ConsumeMark consumes the pending mark discovered by Read and returns it;
// it is a Libcall if Read did not actually stop on a mark.
func (e *Escape) ConsumeMark() (Mark, error) {
	if e.pendingMark == 0 {
		return 0, direrr.Newf(direrr.Libcall, "stack.Escape.ConsumeMark", "no pending mark")
	}
	m := e.pendingMark
	e.pendingMark = 0
	e.readBuf = e.readBuf[len(escapePrefix)+1:]
	return m, nil
}

// SkipToNextMark scans forward (discarding data) until it finds a mark
// matching want. If a different, registered-unjumpable mark is encountered
// first and allowJumpOver is false, it stops and returns that mark instead
// (spec §4.1: "unjumpable-mark registration forbids skipping past certain
// marks").
func (e *Escape) SkipToNextMark(want Mark, allowJumpOver bool) (Mark, error) {
	discard := make([]byte, 4096)
	for {
		n, err := e.Read(discard)
		if n == 0 && err != nil {
			return 0, direrr.New(direrr.Data, "stack.Escape.SkipToNextMark", err)
		}
		if e.pendingMark != 0 {
			found := e.pendingMark
			if found == want {
				_, _ = e.ConsumeMark()
				return found, nil
			}
			if e.unjumpable[found] && !allowJumpOver {
				return found, direrr.Newf(direrr.Range, "stack.Escape.SkipToNextMark",
					"encountered unjumpable mark %d before requested mark %d", found, want)
			}
			_, _ = e.ConsumeMark()
		}
	}
}

func (e *Escape) Skip(pos int64) error       { return e.below.Skip(pos) }
func (e *Escape) SkipRelative(d int64) error { return e.below.SkipRelative(d) }
func (e *Escape) SkipToEOF() error           { return e.below.SkipToEOF() }
func (e *Escape) Skippable(dir Direction, amount int64) bool {
	return e.below.Skippable(dir, amount)
}
func (e *Escape) Position() (int64, error) { return e.pos, nil }

func (e *Escape) SyncWrite() error {
	if err := e.flushPending(); err != nil {
		return err
	}
	return e.below.SyncWrite()
}

func (e *Escape) FlushRead() error {
	e.readBuf = nil
	e.pendingMark = 0
	return e.below.FlushRead()
}

func (e *Escape) Terminate() error {
	return e.flushPending()
}
