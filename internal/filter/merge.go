package filter

import (
	"hash/crc32"
	"io"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/policy"
	"github.com/dargo-project/dargo/internal/stack"
)

// MergeOptions configures one merge pass (spec §4.3 "Merge filter": walk
// two source catalogues in parallel, applying selection/subtree masks and
// resolving conflicts via the overwriting-policy evaluator).
type MergeOptions struct {
	DataName string

	// Newer is treated as in_place in the policy's (in_place, to_be_added)
	// pair; Older as to_be_added, matching this engine's convention that
	// the more recent archive's entries win ties by default.
	Newer, Older *catalogue.Catalogue
	NewerInput   *stack.Stack
	OlderInput   *stack.Stack

	Output *stack.Stack // nil runs a catalogue-only merge

	Selection SelectionMask
	Subtree   SubtreeMask

	Policy policy.Policy
	Ask    policy.AskFunc

	// Decremental, when true, converts entries only present in Newer into
	// detruit tombstones instead of copying their data: the output then
	// describes what must be undone to go from Newer back to Older (spec
	// §4.3 "decremental mode").
	Decremental bool

	// KeepCompressed transcodes file data without re-compressing it: bytes
	// read from whichever source layer already holds them are copied
	// straight through rather than decompressed and recompressed.
	KeepCompressed bool
}

// Merge produces a synthetic catalogue (and, if opts.Output is set, a
// fresh data stack) combining opts.Newer and opts.Older.
func Merge(opts MergeOptions) (*catalogue.Catalogue, Stats, error) {
	out := catalogue.NewCatalogue(opts.DataName)
	out.StartAdd()
	var stats Stats

	opts.Newer.StartRead()
	opts.Older.StartRead()
	cmp := opts.Newer.Compare(opts.Older)

	if err := mergeLoop(&opts, cmp, out, &stats); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

func mergeLoop(opts *MergeOptions, cmp catalogue.CompareCursor, out *catalogue.Catalogue, stats *Stats) error {
	for {
		cur, curOK, ref, refOK := cmp.Next()
		if !curOK && !refOK {
			return nil
		}
		if err := mergeStep(opts, cur, curOK, ref, refOK, out, stats); err != nil {
			return err
		}
	}
}

func mergeStep(opts *MergeOptions, cur catalogue.Entry, curOK bool, ref catalogue.Entry, refOK bool, out *catalogue.Catalogue, stats *Stats) error {
	switch {
	case curOK && !refOK:
		return mergeOnlyNewer(opts, cur, out, stats)
	case !curOK && refOK:
		return mergeOnlyOlder(opts, ref, out, stats)
	default:
		return mergeBoth(opts, cur, ref, out, stats)
	}
}

func mergeOnlyNewer(opts *MergeOptions, cur catalogue.Entry, out *catalogue.Catalogue, stats *Stats) error {
	if !maskSelects(opts.Selection, opts.Subtree, cur) {
		stats.Ignored++
		return nil
	}
	if opts.Decremental {
		// Present only in the newer snapshot: going backward must remove
		// it, so record a tombstone instead of its data.
		stats.Deleted++
		if inode, ok := cur.(catalogue.Inode); ok {
			return out.Add(catalogue.Detruit{NameField: cur.Name(), Kind: inode.Kind()})
		}
		return nil
	}
	return mergeCopyEntry(opts, cur, opts.NewerInput, out, stats)
}

func mergeOnlyOlder(opts *MergeOptions, ref catalogue.Entry, out *catalogue.Catalogue, stats *Stats) error {
	if !maskSelects(opts.Selection, opts.Subtree, ref) {
		stats.Ignored++
		return nil
	}
	if opts.Decremental {
		// Present in the older snapshot but not the newer: going backward
		// must recreate it, so keep its data (not a tombstone).
		return mergeCopyEntry(opts, ref, opts.OlderInput, out, stats)
	}
	if inode, ok := ref.(catalogue.Inode); ok {
		return out.Add(catalogue.Detruit{NameField: ref.Name(), Kind: inode.Kind()})
	}
	return nil
}

func mergeBoth(opts *MergeOptions, cur, ref catalogue.Entry, out *catalogue.Catalogue, stats *Stats) error {
	if !maskSelects(opts.Selection, opts.Subtree, cur) {
		stats.Ignored++
		return nil
	}
	curInode, curIsInode := cur.(catalogue.Inode)
	refInode, refIsInode := ref.(catalogue.Inode)
	if !curIsInode || !refIsInode {
		return mergeCopyEntry(opts, cur, opts.NewerInput, out, stats)
	}

	data, _, err := policy.Evaluate(opts.Policy, curInode, refInode, opts.Ask)
	if err != nil {
		return err
	}
	switch data {
	case policy.DataRemove:
		stats.Deleted++
		return out.Add(catalogue.Detruit{NameField: cur.Name(), Kind: curInode.Kind()})
	case policy.DataPreserve, policy.DataPreserveMarkAlreadySaved:
		return mergeCopyEntry(opts, cur, opts.NewerInput, out, stats)
	default: // overwrite / overwrite_mark_already_saved / ask-resolved
		return mergeCopyEntry(opts, ref, opts.OlderInput, out, stats)
	}
}

func maskSelects(sel SelectionMask, sub SubtreeMask, e catalogue.Entry) bool {
	isDir := false
	if inode, ok := e.(catalogue.Inode); ok {
		isDir = inode.Kind() == catalogue.KindDirectory
	}
	return sel.Selects(e.Name(), isDir) && sub.Selects(e.Name())
}

// mergeCopyEntry appends e (and, for a directory, its whole subtree) to
// out, re-reading its file data from src when present so the merged
// archive is self-contained.
func mergeCopyEntry(opts *MergeOptions, e catalogue.Entry, src *stack.Stack, out *catalogue.Catalogue, stats *Stats) error {
	switch v := e.(type) {
	case *catalogue.Directory:
		dir := catalogue.NewDirectory(v.Name(), v.AttrsField, v.StatusField, nil)
		if err := out.Add(dir); err != nil {
			return err
		}
		for _, child := range v.Children {
			if err := mergeCopyEntry(opts, child, src, out, stats); err != nil {
				return err
			}
		}
		return out.Add(catalogue.Eod{})

	case *catalogue.File:
		clone := *v
		if opts.Output != nil && src != nil && v.StatusField == catalogue.StatusSaved {
			if err := mergeTranscodeFile(opts, &clone, src); err != nil {
				return err
			}
		}
		stats.Treated++
		return out.Add(&clone)

	default:
		stats.Treated++
		return out.Add(e)
	}
}

// mergeTranscodeFile copies f's bytes from src into opts.Output, updating
// f's Offset/StorageSize/CRC in place. When opts.KeepCompressed is set and
// both stacks carry a compressor layer with recorded compressed extents
// for f, the bytes are copied from directly below each compressor —
// already compressed, not yet enciphered — rather than decompressed on
// read and recompressed on write.
func mergeTranscodeFile(opts *MergeOptions, f *catalogue.File, src *stack.Stack) error {
	if opts.KeepCompressed && f.CompressedSize > 0 {
		if ok, err := mergeTranscodeCompressed(opts, f, src); ok {
			return err
		}
	}

	top := opts.Output.Top()
	in := src.Top()

	if err := in.Skip(f.Offset); err != nil {
		return direrr.New(direrr.Hardware, "filter.mergeTranscodeFile", err)
	}
	offset, err := top.Position()
	if err != nil {
		return direrr.New(direrr.Hardware, "filter.mergeTranscodeFile", err)
	}

	crc := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(top, crc), io.LimitReader(in, f.Size))
	if err != nil {
		return direrr.New(direrr.Hardware, "filter.mergeTranscodeFile", err)
	}

	endOffset, err := top.Position()
	if err != nil {
		return direrr.New(direrr.Hardware, "filter.mergeTranscodeFile", err)
	}
	f.Offset = offset
	f.StorageSize = endOffset - offset
	f.CompressedOffset, f.CompressedSize = 0, 0
	f.CRC = crc.Sum(nil)
	if n != f.Size {
		f.Dirty = true
	}
	return nil
}

// compressorSuspender is implemented by *stack.Compressor; named locally so
// this file depends only on the two methods it calls.
type compressorSuspender interface {
	Suspend() error
	Resume() error
}

// mergeTranscodeCompressed attempts the compressed pass-through: it reads
// f's already-compressed bytes directly from the layer below src's
// compressor (skipping decompression) and writes them through
// opts.Output's Top() with its compressor suspended (skipping
// recompression) — the resulting bytes are byte-for-byte what a normal
// compress pass over the same content would have produced, so a later
// restore decompresses them exactly as it would any other compressed
// file, with no changes needed on the read side. Its first return reports
// whether the bypass was attempted at all — false means the caller should
// fall back to the normal decompress/recompress path — independent of the
// error value.
func mergeTranscodeCompressed(opts *MergeOptions, f *catalogue.File, src *stack.Stack) (bool, error) {
	inBelow, ok := src.Below("compressor")
	if !ok {
		return false, nil
	}
	outCompLayer, ok := opts.Output.ByLabel("compressor")
	if !ok {
		return false, nil
	}
	suspender, ok := outCompLayer.(compressorSuspender)
	if !ok {
		return false, nil
	}
	if err := inBelow.Skip(f.CompressedOffset); err != nil {
		return false, nil // not skippable at this layer: fall back
	}

	top := opts.Output.Top()
	offset, err := top.Position()
	if err != nil {
		return true, direrr.New(direrr.Hardware, "filter.mergeTranscodeCompressed", err)
	}
	if err := suspender.Suspend(); err != nil {
		return true, direrr.New(direrr.Hardware, "filter.mergeTranscodeCompressed", err)
	}
	_, copyErr := io.Copy(top, io.LimitReader(inBelow, f.CompressedSize))
	if err := suspender.Resume(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return true, direrr.New(direrr.Hardware, "filter.mergeTranscodeCompressed", copyErr)
	}
	endOffset, err := top.Position()
	if err != nil {
		return true, direrr.New(direrr.Hardware, "filter.mergeTranscodeCompressed", err)
	}

	// The CRC covers decompressed content, which this pass-through never
	// touches, so it carries over from the source file unchanged.
	f.Offset = offset
	f.StorageSize = endOffset - offset
	f.CompressedOffset = offset
	f.CompressedSize = endOffset - offset
	return true, nil
}
