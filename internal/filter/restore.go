package filter

import (
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/policy"
	"github.com/dargo-project/dargo/internal/stack"
	"github.com/dargo-project/dargo/internal/xlog"
)

// DirtyBehavior controls how a restore handles files the backup marked
// dirty (changed mid-read), spec §4.3 step 6.
type DirtyBehavior int

const (
	DirtyIgnore DirtyBehavior = iota
	DirtyWarn
	DirtyRestore
)

// RestoreOptions configures one restore pass (spec §4.3 "Restore filter").
type RestoreOptions struct {
	TargetRoot string
	Source     *catalogue.Catalogue
	Input      *stack.Stack // where file data is read from; when nil, files are created empty and only their attributes are applied

	Selection   SelectionMask
	Subtree     SubtreeMask
	WhatToCheck WhatToCheck

	Policy policy.Policy
	Ask    policy.AskFunc

	Flat          bool // don't recreate directory structure
	EmptyDir      bool // not consulted by Restore: every selected directory is created, empty or not
	Dirty         DirtyBehavior
	OnlyDeleted   bool // only process detruit entries (removing them on target)
	IgnoreDeleted bool // never remove files for a detruit entry
}

// Restore reads opts.Source (already positioned or freshly read) and
// recreates files under opts.TargetRoot (spec §4.3 "Restore filter").
func Restore(opts RestoreOptions) (Stats, error) {
	var stats Stats
	opts.Source.StartRead()
	// The first entry is the catalogue root; its children go under TargetRoot.
	if _, err := opts.Source.Read(); err != nil {
		return stats, direrr.New(direrr.Data, "filter.Restore", err)
	}
	etiquettePaths := make(map[uint64]string)
	if err := restoreLoop(&opts, opts.TargetRoot, &stats, etiquettePaths); err != nil {
		return stats, err
	}
	return stats, nil
}

func restoreLoop(opts *RestoreOptions, dirFSPath string, stats *Stats, etiquettePaths map[uint64]string) error {
	for {
		e, err := opts.Source.Read()
		if err != nil {
			return direrr.New(direrr.Data, "filter.restoreLoop", err)
		}
		if _, ok := e.(catalogue.Eod); ok {
			return nil
		}
		if err := restoreOne(opts, dirFSPath, e, stats, etiquettePaths); err != nil {
			return err
		}
	}
}

func restoreOne(opts *RestoreOptions, dirFSPath string, e catalogue.Entry, stats *Stats, etiquettePaths map[uint64]string) error {
	name := e.Name()
	fsPath := filepath.Join(dirFSPath, name)

	if dir, ok := e.(*catalogue.Directory); ok {
		rel, _ := filepath.Rel(opts.TargetRoot, fsPath)
		if !opts.Subtree.Selects(rel) {
			stats.Ignored++
			return skipDirectory(opts)
		}
		if !opts.Flat {
			if err := os.MkdirAll(fsPath, applyFileMode(dir.AttrsField.Permission)); err != nil {
				stats.Errored++
				xlog.Errorf("filter.restore", "mkdir %s: %v", fsPath, err)
			}
		}
		if err := restoreLoop(opts, fsPath, stats, etiquettePaths); err != nil {
			return err
		}
		applyAttrs(fsPath, dir.AttrsField)
		return nil
	}

	if det, ok := e.(catalogue.Detruit); ok {
		if opts.IgnoreDeleted {
			return nil
		}
		if err := os.RemoveAll(fsPath); err != nil && !os.IsNotExist(err) {
			stats.Errored++
			xlog.Errorf("filter.restore", "remove %s (%s): %v", fsPath, det.Kind, err)
		} else {
			stats.Deleted++
		}
		return nil
	}

	if opts.OnlyDeleted {
		return nil
	}

	if _, ok := e.(catalogue.Ignored); ok {
		stats.Ignored++
		return nil
	}
	if _, ok := e.(catalogue.IgnoredDir); ok {
		stats.Ignored++
		return nil
	}

	if mirage, ok := e.(*catalogue.Mirage); ok {
		target, ok := etiquettePaths[mirage.Star.Etiquette]
		if !ok {
			stats.Errored++
			return direrr.Newf(direrr.Data, "filter.restoreOne", "mirage %q references an etiquette restored out of order", name)
		}
		if err := os.Link(target, fsPath); err != nil {
			stats.Errored++
			xlog.Errorf("filter.restore", "link %s -> %s: %v", fsPath, target, err)
			return nil
		}
		stats.HardLinks++
		return nil
	}

	var inode catalogue.Inode
	etiquette := uint64(0)
	if star, ok := e.(*catalogue.Etoile); ok {
		inode, etiquette = star.Inode, star.Etiquette
	} else if i, ok := e.(catalogue.Inode); ok {
		inode = i
	} else {
		return direrr.Newf(direrr.Bug, "filter.restoreOne", "unexpected entry type %T", e)
	}

	if !opts.Selection.Selects(name, inode.Kind() == catalogue.KindDirectory) {
		stats.Ignored++
		return nil
	}

	if f, ok := inode.(*catalogue.File); ok && f.Dirty {
		switch opts.Dirty {
		case DirtyIgnore:
			return nil
		case DirtyWarn:
			xlog.Logf(logrus.WarnLevel, "filter.restore", "%s was dirty at backup time", fsPath)
		}
	}

	eaAction := policy.EAOverwrite // no pre-existing path: a plain save
	existing, statErr := os.Lstat(fsPath)
	if statErr == nil {
		decision, err := resolveDecision(opts, fsPath, existing, inode)
		if err != nil {
			stats.Errored++
			return nil
		}
		eaAction = decision.EA
		switch decision.Data {
		case policyDataPreserve, policyDataPreserveMarkSaved:
			stats.Skipped++
			if etiquette != 0 {
				etiquettePaths[etiquette] = fsPath
			}
			if err := applyEAAction(fsPath, inode, eaAction); err != nil {
				xlog.Errorf("filter.restore", "EA %s: %v", fsPath, err)
			}
			return nil
		case policyDataRemove:
			os.RemoveAll(fsPath)
			stats.Deleted++
			return nil
		}
		// overwrite falls through to the normal creation path below.
		os.RemoveAll(fsPath)
	}

	if err := createInode(opts, fsPath, inode); err != nil {
		stats.Errored++
		xlog.Errorf("filter.restore", "%s: %v", fsPath, err)
		return nil
	}
	if err := applyEAAction(fsPath, inode, eaAction); err != nil {
		xlog.Errorf("filter.restore", "EA %s: %v", fsPath, err)
	}
	if err := applyFSA(fsPath, inode.FSA()); err != nil {
		xlog.Errorf("filter.restore", "FSA %s: %v", fsPath, err)
	}
	if etiquette != 0 {
		etiquettePaths[etiquette] = fsPath
	}
	stats.Treated++
	return nil
}

// applyEAAction drives the resolved EAAction against fsPath's live
// extended attributes (spec §4.4: restore consults the same (data, EA)
// decision pair the overwriting policy produces, not just the data half).
func applyEAAction(fsPath string, inode catalogue.Inode, action policy.EAAction) error {
	set := inode.EA()
	switch action {
	case policy.EAPreserve, policy.EAPreserveMarkAlreadySaved, policy.EAUndefined:
		return nil
	case policy.EAClear:
		return clearEA(fsPath)
	case policy.EAOverwrite, policy.EAOverwriteMarkAlreadySaved:
		if err := clearEA(fsPath); err != nil {
			return err
		}
		return writeEA(fsPath, set)
	case policy.EAMergePreserve:
		return mergeEA(fsPath, set, false)
	case policy.EAMergeOverwrite:
		return mergeEA(fsPath, set, true)
	default:
		return nil
	}
}

// skipDirectory consumes a directory's entire subtree from the read
// cursor without materializing anything on disk (spec glossary
// "skip_read_to_parent_dir").
func skipDirectory(opts *RestoreOptions) error {
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

func createInode(opts *RestoreOptions, fsPath string, inode catalogue.Inode) error {
	switch v := inode.(type) {
	case *catalogue.File:
		return restoreFile(opts, fsPath, v)
	case *catalogue.Symlink:
		return os.Symlink(v.Target, fsPath)
	case *catalogue.Device:
		return direrr.Newf(direrr.Feature, "filter.createInode", "device node creation requires root privilege and is not attempted")
	case *catalogue.Special:
		return direrr.Newf(direrr.Feature, "filter.createInode", "%s creation not supported", v.KindField)
	default:
		return direrr.Newf(direrr.Bug, "filter.createInode", "unhandled inode kind %T", inode)
	}
}

func restoreFile(opts *RestoreOptions, fsPath string, f *catalogue.File) error {
	out, err := os.OpenFile(fsPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, applyFileMode(f.AttrsField.Permission))
	if err != nil {
		return err
	}
	defer out.Close()

	if f.StatusField != catalogue.StatusSaved || opts.Input == nil {
		applyAttrs(fsPath, f.AttrsField)
		return nil
	}

	top := opts.Input.Top()
	if err := top.Skip(f.Offset); err != nil {
		return direrr.New(direrr.Hardware, "filter.restoreFile", err)
	}
	crc := crc32.NewIEEE()

	if f.Sparse && len(f.SparseRuns) > 0 {
		// Only data runs were written to the stack (see buildFileInode);
		// seek the hole lengths back in on the target file instead of
		// reading them, recreating the same sparse layout.
		var pos int64
		for _, run := range f.SparseRuns {
			pos += run.HoleLength
			if _, err := out.Seek(pos, io.SeekStart); err != nil {
				return direrr.New(direrr.Hardware, "filter.restoreFile", err)
			}
			limited := io.LimitReader(top, run.DataLength)
			if _, err := io.Copy(io.MultiWriter(out, crc), limited); err != nil {
				return direrr.New(direrr.Hardware, "filter.restoreFile", err)
			}
			pos += run.DataLength
		}
		if err := out.Truncate(pos); err != nil {
			return direrr.New(direrr.Hardware, "filter.restoreFile", err)
		}
	} else {
		limited := io.LimitReader(top, f.Size)
		if _, err := io.Copy(io.MultiWriter(out, crc), limited); err != nil {
			return direrr.New(direrr.Hardware, "filter.restoreFile", err)
		}
	}

	if f.CRC != nil && string(crc.Sum(nil)) != string(f.CRC) {
		return direrr.Newf(direrr.Data, "filter.restoreFile", "CRC mismatch restoring %s", fsPath)
	}
	applyAttrs(fsPath, f.AttrsField)
	return nil
}

// Decision-kind aliases kept local to avoid every caller importing the
// policy package just to name a handful of constants.
const (
	policyDataPreserve          = policy.DataPreserve
	policyDataPreserveMarkSaved = policy.DataPreserveMarkAlreadySaved
	policyDataRemove            = policy.DataRemove
)

func resolveDecision(opts *RestoreOptions, fsPath string, existing os.FileInfo, candidate catalogue.Inode) (policy.Decision, error) {
	attrs, _, _ := attrsFromFileInfo(existing)
	inPlaceKind := inodeKindOf(existing)
	inPlace := placeholderInode(inPlaceKind, attrs)
	data, ea, err := policy.Evaluate(opts.Policy, inPlace, candidate, opts.Ask)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.Decision{Data: data, EA: ea}, nil
}

// placeholderInode wraps the live filesystem entry's bare kind/attrs as a
// minimal catalogue.Inode so the overwriting-policy evaluator's criteria
// (which only inspect Kind/Attributes/EA) can run against it without a
// full backup pass over the existing file.
func placeholderInode(kind catalogue.InodeKind, attrs catalogue.Attrs) catalogue.Inode {
	switch kind {
	case catalogue.KindDirectory:
		return &catalogue.Directory{AttrsField: attrs, StatusField: catalogue.StatusSaved}
	default:
		return &catalogue.File{AttrsField: attrs, StatusField: catalogue.StatusSaved}
	}
}

func applyFileMode(permission uint16) os.FileMode { return os.FileMode(permission) & os.ModePerm }

func applyAttrs(fsPath string, attrs catalogue.Attrs) {
	if err := os.Chmod(fsPath, applyFileMode(attrs.Permission)); err != nil {
		xlog.Errorf("filter.restore", "chmod %s: %v", fsPath, err)
	}
	if attrs.UID != 0 || attrs.GID != 0 {
		if err := os.Chown(fsPath, int(attrs.UID), int(attrs.GID)); err != nil {
			xlog.Errorf("filter.restore", "chown %s: %v", fsPath, err)
		}
	}
	if !attrs.Mtime.IsZero() {
		atime := attrs.Atime
		if atime.IsZero() {
			atime = attrs.Mtime
		}
		if err := os.Chtimes(fsPath, atime, attrs.Mtime); err != nil {
			xlog.Errorf("filter.restore", "chtimes %s: %v", fsPath, err)
		}
	}
}
