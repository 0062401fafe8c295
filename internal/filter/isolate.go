package filter

import (
	"crypto/sha1"
	"hash/adler32"
	"io"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/stack"
)

// deltaBlockSize is the fixed block size used by the delta-signature
// rolling checksum (spec §4.3 "isolate filter").
const deltaBlockSize = 1 << 16

// IsolateOptions configures one isolate pass (spec §4.3 "Isolate filter":
// write a catalogue-only archive — offsets and CRCs preserved, no file
// data copied).
type IsolateOptions struct {
	DataName string
	Source   *catalogue.Catalogue

	// Input, when DeltaSignature is set, is the data stack the source
	// archive's file bytes are read from to rebuild signatures.
	Input          *stack.Stack
	DeltaSignature bool

	Selection SelectionMask
	Subtree   SubtreeMask
}

// Isolate produces a catalogue-only clone of opts.Source: every inode is
// copied with its recorded Offset/Size/CRC intact but no bytes are
// written to any data stack, since a catalogue-only archive has none.
func Isolate(opts IsolateOptions) (*catalogue.Catalogue, Stats, error) {
	out := catalogue.NewCatalogue(opts.DataName)
	out.StartAdd()
	var stats Stats

	opts.Source.StartRead()
	// The first entry is the source root; its children go under out's root.
	if _, err := opts.Source.Read(); err != nil {
		return nil, stats, err
	}
	if err := isolateLoop(&opts, "", out, &stats); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

func isolateLoop(opts *IsolateOptions, dirPath string, out *catalogue.Catalogue, stats *Stats) error {
	for {
		e, err := opts.Source.Read()
		if err != nil {
			return err
		}
		if _, ok := e.(catalogue.Eod); ok {
			if dirPath == "" {
				return nil // end of the root: out's root needs no Eod
			}
			return out.Add(catalogue.Eod{})
		}
		if err := isolateOne(opts, dirPath, e, out, stats); err != nil {
			return err
		}
	}
}

func isolateOne(opts *IsolateOptions, dirPath string, e catalogue.Entry, out *catalogue.Catalogue, stats *Stats) error {
	path := dirPath + "/" + e.Name()

	if dir, ok := e.(*catalogue.Directory); ok {
		if !opts.Subtree.Selects(path) {
			stats.Ignored++
			return skipIsolateSubtree(opts, out)
		}
		clone := catalogue.NewDirectory(dir.Name(), dir.AttrsField, dir.StatusField, nil)
		if err := out.Add(clone); err != nil {
			return err
		}
		return isolateLoop(opts, path, out, stats)
	}

	if f, ok := e.(*catalogue.File); ok {
		if !opts.Selection.Selects(f.Name(), false) {
			stats.Ignored++
			return out.Add(e)
		}
		clone := *f
		if opts.DeltaSignature && opts.Input != nil && f.StatusField == catalogue.StatusSaved {
			sig, err := computeDeltaSig(opts.Input, f)
			if err != nil {
				stats.Errored++
				return out.Add(&clone)
			}
			clone.DeltaSig = sig
		}
		stats.Treated++
		return out.Add(&clone)
	}

	return out.Add(e)
}

func skipIsolateSubtree(opts *IsolateOptions, out *catalogue.Catalogue) error {
	depth := 1
	for depth > 0 {
		e, err := opts.Source.Read()
		if err != nil {
			return err
		}
		switch e.(type) {
		case *catalogue.Directory:
			depth++
		case catalogue.Eod:
			depth--
		}
	}
	return nil
}

// computeDeltaSig rebuilds a fixed-block rolling-checksum signature for f
// by reading its stored bytes back from in (spec §4.3 "isolate filter",
// glossary "delta_signature"): a simple fixed-block Adler-32-style weak
// checksum paired with a SHA-1 strong hash per block, modeled on the
// two-checksum structure used for rsync-style differential transfer
// rather than a full rolling-window implementation.
func computeDeltaSig(in *stack.Stack, f *catalogue.File) ([]catalogue.DeltaBlock, error) {
	top := in.Top()
	if err := top.Skip(f.Offset); err != nil {
		return nil, direrr.New(direrr.Hardware, "filter.computeDeltaSig", err)
	}
	var sig []catalogue.DeltaBlock
	remaining := f.Size
	buf := make([]byte, deltaBlockSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(top, buf[:n]); err != nil {
			return nil, direrr.New(direrr.Hardware, "filter.computeDeltaSig", err)
		}
		strong := sha1.Sum(buf[:n])
		sig = append(sig, catalogue.DeltaBlock{
			Weak:   adler32.Checksum(buf[:n]),
			Strong: strong[:],
		})
		remaining -= n
	}
	return sig, nil
}
