package filter

import (
	"encoding/binary"
	"io"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/stack"
)

// marker is implemented by the escape layer; named as a local structural
// interface so this package depends only on the methods it needs rather
// than the concrete *stack.Escape type.
type marker interface {
	WriteMark(stack.Mark) error
}

// writeRepairMark emits m through opts.Output's escape layer if one is
// present; a stack without tape-mark framing (e.g. a test harness writing
// straight to a buffer) silently skips mark emission.
func writeRepairMark(out *stack.Stack, m stack.Mark) {
	if out == nil {
		return
	}
	if layer, ok := out.ByLabel("escape"); ok {
		if e, ok := layer.(marker); ok {
			_ = e.WriteMark(m)
		}
	}
}

// writeRepairMarks brackets a file's data with MarkFileHeader (carrying
// name+size so a sequential repair scan can recover them without any
// catalogue) followed by MarkFileDataStart (spec §4.3 "Repair filter").
func writeRepairMarks(out *stack.Stack, name string, size int64) {
	if out == nil {
		return
	}
	layer, ok := out.ByLabel("escape")
	if !ok {
		return
	}
	e, ok := layer.(marker)
	if !ok {
		return
	}
	_ = e.WriteMark(stack.MarkFileHeader)
	top := out.Top()
	_ = writeRepairString(top, name)
	_ = writeRepairU64(top, uint64(size))
	_ = e.WriteMark(stack.MarkFileDataStart)
}

func writeRepairString(w io.Writer, s string) error {
	if err := writeRepairU64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func writeRepairU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readRepairString(r io.Reader) (string, error) {
	n, err := readRepairU64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readRepairU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// RepairOptions configures one repair pass (spec §4.3 "Repair filter":
// read strictly sequentially via tape marks, ignoring any trailing
// catalogue, and reconstruct one from what the marks reveal).
type RepairOptions struct {
	DataName string
	Input    *stack.Stack // must expose a layer labeled "escape"
}

// Repair scans opts.Input's escape layer end to end, synthesizing a flat
// catalogue (spec's sequential-recovery mode does not recover directory
// structure, only file records between their open/close marks) from
// MarkFileHeader/MarkFileDataStart/MarkFileDataEnd triples.
func Repair(opts RepairOptions) (*catalogue.Catalogue, Stats, error) {
	var stats Stats
	layer, ok := opts.Input.ByLabel("escape")
	if !ok {
		return nil, stats, direrr.Newf(direrr.Libcall, "filter.Repair", "input stack has no escape layer to scan")
	}
	esc, ok := layer.(interface {
		SkipToNextMark(stack.Mark, bool) (stack.Mark, error)
	})
	if !ok {
		return nil, stats, direrr.Newf(direrr.Libcall, "filter.Repair", "escape layer does not support sequential mark recovery")
	}

	out := catalogue.NewCatalogue(opts.DataName)
	out.StartAdd()
	top := opts.Input.Top()

	for {
		_, err := esc.SkipToNextMark(stack.MarkFileHeader, true)
		if err != nil {
			break // EOF or unrecoverable stream damage: stop, keep what was found
		}
		name, err := readRepairString(top)
		if err != nil {
			stats.Errored++
			break
		}
		size, err := readRepairU64(top)
		if err != nil {
			stats.Errored++
			break
		}
		if _, err := esc.SkipToNextMark(stack.MarkFileDataStart, true); err != nil {
			stats.Errored++
			break
		}
		offset, err := top.Position()
		if err != nil {
			stats.Errored++
			break
		}
		if _, err := esc.SkipToNextMark(stack.MarkFileDataEnd, true); err != nil {
			stats.Errored++
			break
		}
		file := &catalogue.File{
			NameField:   name,
			StatusField: catalogue.StatusSaved,
			Size:        int64(size),
			Offset:      offset,
		}
		if err := out.Add(file); err != nil {
			return out, stats, err
		}
		stats.Treated++
	}

	return out, stats, nil
}
