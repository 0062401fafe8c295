package filter

import (
	"os"
	"path/filepath"

	"github.com/dargo-project/dargo/internal/catalogue"
)

// DiffKind classifies one reported difference (spec §4.3 "Diff filter").
type DiffKind int

const (
	DiffMissing    DiffKind = iota // present in the archive, absent on disk
	DiffExtra                      // present on disk, absent from the archive
	DiffAttrs                      // present in both, attributes differ per WhatToCheck
	DiffKindChange                 // present in both, inode kind differs (file vs. dir, etc.)
	DiffEA                         // present in both, extended attributes differ
	DiffFSA                        // present in both, filesystem-specific attributes differ
)

func (k DiffKind) String() string {
	switch k {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffAttrs:
		return "attrs-differ"
	case DiffKindChange:
		return "kind-changed"
	case DiffEA:
		return "ea-differ"
	case DiffFSA:
		return "fsa-differ"
	default:
		return "unknown"
	}
}

// Difference is one path-level mismatch found by Diff.
type Difference struct {
	Path string
	Kind DiffKind
}

// DiffOptions configures one diff pass (spec §4.3 "Diff filter": compare
// an archive's catalogue against the live filesystem it was taken from,
// without modifying either side).
type DiffOptions struct {
	TargetRoot  string
	Source      *catalogue.Catalogue
	Selection   SelectionMask
	Subtree     SubtreeMask
	WhatToCheck WhatToCheck

	// EA restricts which extended attribute names are compared; a zero
	// value compares every name the filesystem reports.
	EA EAMask
}

// Diff reports, without mutating the filesystem or the catalogue, every
// catalogue entry that is missing from the live tree or differs from it.
// It walks the catalogue only: paths present on disk but absent from the
// archive are not reported, and no DiffExtra is produced.
func Diff(opts DiffOptions) ([]Difference, Stats, error) {
	var diffs []Difference
	var stats Stats
	opts.Source.StartRead()
	// The first entry is the catalogue root; its children live under TargetRoot.
	if _, err := opts.Source.Read(); err != nil {
		return diffs, stats, err
	}
	if err := diffLoop(&opts, opts.TargetRoot, &diffs, &stats); err != nil {
		return diffs, stats, err
	}
	return diffs, stats, nil
}

func diffLoop(opts *DiffOptions, dirFSPath string, diffs *[]Difference, stats *Stats) error {
	for {
		e, err := opts.Source.Read()
		if err != nil {
			return err
		}
		if _, ok := e.(catalogue.Eod); ok {
			return nil
		}
		if err := diffOne(opts, dirFSPath, e, diffs, stats); err != nil {
			return err
		}
	}
}

func diffOne(opts *DiffOptions, dirFSPath string, e catalogue.Entry, diffs *[]Difference, stats *Stats) error {
	name := e.Name()
	fsPath := filepath.Join(dirFSPath, name)

	switch v := e.(type) {
	case *catalogue.Directory:
		rel, _ := filepath.Rel(opts.TargetRoot, fsPath)
		if !opts.Subtree.Selects(rel) {
			stats.Ignored++
			return skipDiffSubtree(opts)
		}
		fi, err := os.Lstat(fsPath)
		if err != nil {
			*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffMissing})
			stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "missing"})
			return skipDiffSubtree(opts)
		}
		if !fi.IsDir() {
			*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffKindChange})
			stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "expected directory"})
		}
		return diffLoop(opts, fsPath, diffs, stats)

	case catalogue.Ignored, catalogue.IgnoredDir, catalogue.Detruit:
		return nil

	case *catalogue.Mirage:
		return diffInode(opts, fsPath, name, v.Star.Inode, diffs, stats)

	case *catalogue.Etoile:
		return diffInode(opts, fsPath, name, v.Inode, diffs, stats)

	case catalogue.Inode:
		return diffInode(opts, fsPath, name, v, diffs, stats)

	default:
		return nil
	}
}

func diffInode(opts *DiffOptions, fsPath, name string, inode catalogue.Inode, diffs *[]Difference, stats *Stats) error {
	if !opts.Selection.Selects(name, inode.Kind() == catalogue.KindDirectory) {
		stats.Ignored++
		return nil
	}
	fi, err := os.Lstat(fsPath)
	if err != nil {
		*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffMissing})
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "missing"})
		return nil
	}
	liveKind := inodeKindOf(fi)
	if liveKind != inode.Kind() {
		*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffKindChange})
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "kind changed"})
		return nil
	}
	liveAttrs, _, _ := attrsFromFileInfo(fi)
	if opts.WhatToCheck.Changed(*inode.Attributes(), liveAttrs) {
		*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffAttrs})
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "attributes differ"})
	}
	if liveEA, err := populateEA(fsPath, opts.EA); err == nil && eaSetsDiffer(inode.EA(), liveEA) {
		*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffEA})
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "extended attributes differ"})
	}
	if liveFSA, err := populateFSA(fsPath); err == nil && fsaSetsDiffer(inode.FSA(), liveFSA) {
		*diffs = append(*diffs, Difference{Path: fsPath, Kind: DiffFSA})
		stats.Mismatches = append(stats.Mismatches, Mismatch{Path: fsPath, Reason: "filesystem-specific attributes differ"})
	}
	stats.Treated++
	return nil
}

func skipDiffSubtree(opts *DiffOptions) error {
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
