package stack

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/entrepot"
	"github.com/dargo-project/dargo/internal/xlog"
)

// trailingFlag is the one-byte flag written between slices (archive format
// >= 8, spec §4.1) marking whether a following slice exists.
const (
	trailingFlagMore = 0x01
	trailingFlagLast = 0x00
)

// BetweenSliceCommand is invoked by the Slicer between slices so the
// operator can swap removable media; {slice-number, basename, path,
// extension} macros are substituted before invocation (spec §4.1).
type BetweenSliceCommand struct {
	Template string // e.g. "eject {path}/{basename}.{slice-number}.{extension}"
}

func (c BetweenSliceCommand) run(ctx context.Context, basename, path string, sliceNum int64, ext string) error {
	if c.Template == "" {
		return nil
	}
	cmdline := strings.NewReplacer(
		"{slice-number}", strconv.FormatInt(sliceNum, 10),
		"{basename}", basename,
		"{path}", path,
		"{extension}", ext,
	).Replace(c.Template)
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		return direrr.New(direrr.Script, "stack.BetweenSliceCommand", err)
	}
	return nil
}

// SlicerConfig configures a Slicer layer.
type SlicerConfig struct {
	Basename   string
	Extension  string // defaults to "dar"
	MinDigits  int    // minimum zero-padded digit count for slice numbers, minimum 1
	Layout     SliceLayout
	Between    BetweenSliceCommand
	Permission uint32
}

// Slicer presents a single logical byte stream over a sequence of
// fixed-size slice files named `<basename>.<NNN>.<ext>` (spec §4.1, §6).
type Slicer struct {
	ctx     context.Context
	store   entrepot.Entrepot
	cfg     SlicerConfig
	mode    Mode
	pos     int64
	cur     entrepot.Handle
	curNum  int64
	dirty   bool
	ended   bool // true once SkipToEOF/terminate observed the final slice
}

// NewSlicer constructs a Slicer layer bottom-most in the stack.
func NewSlicer(ctx context.Context, store entrepot.Entrepot, cfg SlicerConfig, mode Mode) *Slicer {
	if cfg.Extension == "" {
		cfg.Extension = "dar"
	}
	if cfg.MinDigits < 1 {
		cfg.MinDigits = 1
	}
	return &Slicer{ctx: ctx, store: store, cfg: cfg, mode: mode}
}

func (s *Slicer) Label() string { return "slicer" }
func (s *Slicer) Mode() Mode    { return s.mode }

func (s *Slicer) sliceName(n int64) string {
	return fmt.Sprintf("%s.%0*d.%s", s.cfg.Basename, s.cfg.MinDigits, n, s.cfg.Extension)
}

func (s *Slicer) ensureOpenFor(logicalOffset int64) error {
	n, _, err := s.cfg.Layout.WhichSlice(logicalOffset)
	if err != nil {
		return err
	}
	if s.cur != nil && s.curNum == n {
		return nil
	}
	if s.cur != nil {
		if err := s.closeCurrent(); err != nil {
			return err
		}
	}
	openMode := entrepot.ReadOnly
	if s.mode != ReadOnly {
		openMode = entrepot.ReadWrite
	}
	h, err := s.store.Open(s.ctx, s.sliceName(n), openMode, s.cfg.Permission, false, s.mode != ReadOnly && n == 1)
	if err != nil {
		return direrr.New(direrr.Hardware, "stack.Slicer.ensureOpenFor", err)
	}
	s.cur = h
	s.curNum = n
	return nil
}

func (s *Slicer) closeCurrent() error {
	if s.cur == nil {
		return nil
	}
	if s.mode != ReadOnly {
		// write the trailing "more slices follow" flag before moving on;
		// the final slice's flag is corrected to trailingFlagLast in
		// Terminate once no further slice is opened.
		headerSize := s.cfg.Layout.OtherSliceHeaderSize
		if s.curNum == 1 {
			headerSize = s.cfg.Layout.FirstSliceHeaderSize
		}
		_ = headerSize
		if _, err := s.cur.WriteAt([]byte{trailingFlagMore}, 0); err != nil {
			return direrr.New(direrr.Hardware, "stack.Slicer.closeCurrent", err)
		}
		if err := s.cur.Sync(); err != nil {
			return direrr.New(direrr.Hardware, "stack.Slicer.closeCurrent", err)
		}
		if err := s.cfg.Between.run(s.ctx, s.cfg.Basename, s.store.Root(), s.curNum, s.cfg.Extension); err != nil {
			return err
		}
	}
	err := s.cur.Close()
	s.cur = nil
	if err != nil {
		return direrr.New(direrr.Hardware, "stack.Slicer.closeCurrent", err)
	}
	return nil
}

// payloadOffset converts a logical offset into the physical within-slice
// offset, accounting for the per-slice header the slicer reserves.
func (s *Slicer) payloadOffset(logicalOffset int64) (int64, error) {
	n, off, err := s.cfg.Layout.WhichSlice(logicalOffset)
	if err != nil {
		return 0, err
	}
	hdr := s.cfg.Layout.OtherSliceHeaderSize
	if n == 1 {
		hdr = s.cfg.Layout.FirstSliceHeaderSize
	}
	return off + hdr, nil
}

func (s *Slicer) Read(p []byte) (int, error) {
	if err := s.ensureOpenFor(s.pos); err != nil {
		return 0, err
	}
	physOff, err := s.payloadOffset(s.pos)
	if err != nil {
		return 0, err
	}
	n, err := s.cur.ReadAt(p, physOff)
	s.pos += int64(n)
	return n, err
}

func (s *Slicer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if err := s.ensureOpenFor(s.pos); err != nil {
			return total, err
		}
		physOff, err := s.payloadOffset(s.pos)
		if err != nil {
			return total, err
		}
		capacity := s.cfg.Layout.capacityOf(s.curNum)
		_, curOffInSlice, _ := s.cfg.Layout.WhichSlice(s.pos)
		var chunk []byte
		if !s.cfg.Layout.Sliced() || curOffInSlice+int64(len(p)) <= capacity {
			chunk = p
		} else {
			chunk = p[:capacity-curOffInSlice]
		}
		n, err := s.cur.WriteAt(chunk, physOff)
		total += n
		s.pos += int64(n)
		s.dirty = true
		if err != nil {
			return total, direrr.New(direrr.Hardware, "stack.Slicer.Write", err)
		}
		p = p[n:]
	}
	return total, nil
}

func (s *Slicer) Skip(pos int64) error {
	s.pos = pos
	return nil
}

func (s *Slicer) SkipRelative(delta int64) error {
	s.pos += delta
	return nil
}

func (s *Slicer) SkipToEOF() error {
	// Scan forward through existing slices using the entrepot's directory
	// listing, honoring the trailing-flag protocol transparently.
	names, err := s.store.List(s.ctx)
	if err != nil {
		return direrr.New(direrr.Hardware, "stack.Slicer.SkipToEOF", err)
	}
	var maxN int64
	for _, name := range names {
		if !strings.HasPrefix(name, s.cfg.Basename+".") {
			continue
		}
		parts := strings.Split(name, ".")
		if len(parts) < 3 {
			continue
		}
		if n, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil && n > maxN {
			maxN = n
		}
	}
	if maxN == 0 {
		s.pos = 0
		return nil
	}
	off, err := s.cfg.Layout.ReconstructOffset(maxN, s.cfg.Layout.capacityOf(maxN))
	if err != nil {
		return err
	}
	s.pos = off
	s.ended = true
	return nil
}

func (s *Slicer) Skippable(dir Direction, amount int64) bool { return true }

func (s *Slicer) Position() (int64, error) { return s.pos, nil }

func (s *Slicer) SyncWrite() error {
	if s.cur == nil {
		return nil
	}
	if err := s.cur.Sync(); err != nil {
		return direrr.New(direrr.Hardware, "stack.Slicer.SyncWrite", err)
	}
	return nil
}

func (s *Slicer) FlushRead() error { return nil }

// Terminate writes the final slice's eof marker (trailingFlagLast) and
// closes the open handle, at most once.
func (s *Slicer) Terminate() error {
	if s.cur == nil {
		return nil
	}
	if s.mode != ReadOnly {
		if _, err := s.cur.WriteAt([]byte{trailingFlagLast}, 0); err != nil {
			return direrr.New(direrr.Hardware, "stack.Slicer.Terminate", err)
		}
	}
	xlog.Debugf(s, "terminated at slice %d, logical size %d", s.curNum, s.pos)
	return s.closeFinal()
}

func (s *Slicer) closeFinal() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	if err != nil {
		return direrr.New(direrr.Hardware, "stack.Slicer.closeFinal", err)
	}
	return nil
}
