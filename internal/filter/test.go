package filter

import (
	"hash/crc32"
	"io"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/stack"
)

// TestOptions configures one archive-integrity pass (spec §4.3 "Test
// filter": read every saved file's data back through the stack and
// recompute its CRC, without writing anything to disk).
type TestOptions struct {
	Source    *catalogue.Catalogue
	Input     *stack.Stack
	Selection SelectionMask
	Subtree   SubtreeMask

	// Empty runs a metadata-only integrity check: every selected saved
	// file is confirmed present (offset/size recorded, stack reachable)
	// without reading its data back or recomputing its CRC (spec §4.3
	// "Test filter", "empty" mode).
	Empty bool
}

// Test walks opts.Source and verifies every StatusSaved file's recorded
// CRC against the bytes actually stored, reporting one Mismatch per
// failure rather than aborting on the first one.
func Test(opts TestOptions) (Stats, error) {
	var stats Stats
	opts.Source.StartRead()
	// The first entry is the catalogue root; walk its children.
	if _, err := opts.Source.Read(); err != nil {
		return stats, err
	}
	if err := testLoop(&opts, "", &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func testLoop(opts *TestOptions, dirPath string, stats *Stats) error {
	for {
		e, err := opts.Source.Read()
		if err != nil {
			return err
		}
		if _, ok := e.(catalogue.Eod); ok {
			return nil
		}
		if err := testOne(opts, dirPath, e, stats); err != nil {
			return err
		}
	}
}

func testOne(opts *TestOptions, dirPath string, e catalogue.Entry, stats *Stats) error {
	path := dirPath + "/" + e.Name()

	switch v := e.(type) {
	case *catalogue.Directory:
		if !opts.Subtree.Selects(path) {
			stats.Ignored++
			return skipTestSubtree(opts)
		}
		return testLoop(opts, path, stats)
	case catalogue.Ignored, catalogue.IgnoredDir, catalogue.Detruit:
		return nil
	case *catalogue.Mirage:
		stats.HardLinks++
		return nil
	case *catalogue.Etoile:
		return testInode(opts, path, v.Inode, stats)
	case catalogue.Inode:
		return testInode(opts, path, v, stats)
	default:
		return nil
	}
}

func testInode(opts *TestOptions, path string, inode catalogue.Inode, stats *Stats) error {
	if !opts.Selection.Selects(inode.Name(), inode.Kind() == catalogue.KindDirectory) {
		stats.Ignored++
		return nil
	}
	f, ok := inode.(*catalogue.File)
	if !ok || f.StatusField != catalogue.StatusSaved {
		stats.Skipped++
		return nil
	}
	if opts.Input == nil {
		return direrr.Newf(direrr.Libcall, "filter.testInode", "Test requires an Input stack to read archive data from")
	}

	if opts.Empty {
		if f.Offset < 0 || f.Size < 0 {
			stats.Errored++
			stats.Mismatches = append(stats.Mismatches, Mismatch{Path: path, Reason: "negative offset or size recorded"})
			return nil
		}
		stats.Treated++
		return nil
	}

	top := opts.Input.Top()
	if err := top.Skip(f.Offset); err != nil {
		stats.Errored++
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: path, Reason: err.Error()})
		return nil
	}
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, io.LimitReader(top, f.Size)); err != nil {
		stats.Errored++
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: path, Reason: err.Error()})
		return nil
	}
	if f.CRC != nil && string(crc.Sum(nil)) != string(f.CRC) {
		stats.Errored++
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: path, Reason: "CRC mismatch"})
		return nil
	}
	stats.Treated++
	stats.ByteRead += f.Size
	return nil
}

func skipTestSubtree(opts *TestOptions) error {
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
