package dargo

import (
	"os"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/filter"
	"github.com/dargo-project/dargo/internal/policy"
	"github.com/dargo-project/dargo/internal/stack"
)

// ExitCode maps an operation's returned error to the suggested process
// exit code (spec §6); re-exported so a CLI front-end need not import
// internal/direrr directly.
func ExitCode(err error) int { return direrr.ExitCode(err) }

// BackupRequest configures a full or differential backup.
type BackupRequest struct {
	Session   *Session
	SourceRoot string
	Reference *catalogue.Catalogue // nil for a full backup

	// Resume is a previous, interrupted attempt's catalogue; entries it
	// recorded that this run's walk doesn't reach are spliced back in with
	// freshly renumbered hard-link etiquettes (spec §4.2
	// "update_absent_with").
	Resume *catalogue.Catalogue

	Selection SelectionOptions
	WhatToCheck filter.WhatToCheck

	EmptyDir         bool
	CrossFilesystems bool
	DetectSparse     bool
	Hook             *filter.HookMask

	// MultiThreaded configures the backup filter's background worker pool
	// for per-chunk processing of sparse files (spec §5 "multi_threaded").
	// 0 or 1 runs single-threaded.
	MultiThreaded int
}

// Backup runs the backup filter over req.SourceRoot, writing file data
// through req.Session's stack and returning the resulting catalogue.
func Backup(req BackupRequest) (*catalogue.Catalogue, filter.Stats, error) {
	if err := statRoot(req.SourceRoot); err != nil {
		return nil, filter.Stats{}, err
	}
	return filter.Backup(filter.BackupOptions{
		SourceRoot:         req.SourceRoot,
		DataName:           req.Session.cfg.Basename,
		Output:             req.Session.stack,
		Reference:          req.Reference,
		Resume:             req.Resume,
		Selection:          req.Selection.Selection,
		Subtree:            req.Selection.Subtree,
		EA:                 req.Selection.EA,
		WhatToCheck:        req.WhatToCheck,
		EmptyDir:           req.EmptyDir,
		CrossFilesystems:   req.CrossFilesystems,
		Compression:        req.Session.cfg.Compression,
		CompressionMinSize: req.Session.cfg.CompressionMinSize,
		DetectSparse:       req.DetectSparse,
		Hook:               req.Hook,
		MultiThreaded:      req.MultiThreaded,
	})
}

// RestoreRequest configures a restore.
type RestoreRequest struct {
	Session    *Session
	TargetRoot string
	Source     *catalogue.Catalogue

	Selection   SelectionOptions
	WhatToCheck filter.WhatToCheck

	Policy policy.Policy
	Ask    policy.AskFunc

	Flat          bool
	EmptyDir      bool
	Dirty         filter.DirtyBehavior
	OnlyDeleted   bool
	IgnoreDeleted bool
}

// Restore runs the restore filter, recreating req.Source under
// req.TargetRoot, reading file data from req.Session's stack.
func Restore(req RestoreRequest) (filter.Stats, error) {
	if req.Policy.Root == nil {
		req.Policy = policy.Default
	}
	return filter.Restore(filter.RestoreOptions{
		TargetRoot:    req.TargetRoot,
		Source:        req.Source,
		Input:         req.Session.stack,
		Selection:     req.Selection.Selection,
		Subtree:       req.Selection.Subtree,
		WhatToCheck:   req.WhatToCheck,
		Policy:        req.Policy,
		Ask:           req.Ask,
		Flat:          req.Flat,
		EmptyDir:      req.EmptyDir,
		Dirty:         req.Dirty,
		OnlyDeleted:   req.OnlyDeleted,
		IgnoreDeleted: req.IgnoreDeleted,
	})
}

// Diff compares source against the live filesystem under targetRoot.
func Diff(targetRoot string, source *catalogue.Catalogue, sel SelectionOptions, check filter.WhatToCheck) ([]filter.Difference, filter.Stats, error) {
	return filter.Diff(filter.DiffOptions{
		TargetRoot:  targetRoot,
		Source:      source,
		Selection:   sel.Selection,
		Subtree:     sel.Subtree,
		WhatToCheck: check,
		EA:          sel.EA,
	})
}

// Test verifies source's file data against req.Session's stack. When
// empty is true it only confirms metadata consistency (offsets/sizes
// present, no negative ranges) without reading any file data back.
func Test(session *Session, source *catalogue.Catalogue, sel SelectionOptions, empty bool) (filter.Stats, error) {
	return filter.Test(filter.TestOptions{
		Source:    source,
		Input:     session.stack,
		Selection: sel.Selection,
		Subtree:   sel.Subtree,
		Empty:     empty,
	})
}

// MergeRequest configures a merge of two archives into a synthetic third.
type MergeRequest struct {
	Output *Session
	Newer, Older *catalogue.Catalogue
	NewerSession, OlderSession *Session

	Selection SelectionOptions
	Policy    policy.Policy
	Ask       policy.AskFunc

	Decremental    bool
	KeepCompressed bool
}

// Merge combines req.Newer and req.Older into a fresh catalogue, writing
// through req.Output's stack when non-nil.
func Merge(req MergeRequest) (*catalogue.Catalogue, filter.Stats, error) {
	if req.Policy.Root == nil {
		req.Policy = policy.Default
	}
	var output, newerIn, olderIn *stack.Stack
	if req.Output != nil {
		output = req.Output.stack
	}
	if req.NewerSession != nil {
		newerIn = req.NewerSession.stack
	}
	if req.OlderSession != nil {
		olderIn = req.OlderSession.stack
	}
	return filter.Merge(filter.MergeOptions{
		DataName:       req.Newer.DataName,
		Newer:          req.Newer,
		Older:          req.Older,
		NewerInput:     newerIn,
		OlderInput:     olderIn,
		Output:         output,
		Selection:      req.Selection.Selection,
		Subtree:        req.Selection.Subtree,
		Policy:         req.Policy,
		Ask:            req.Ask,
		Decremental:    req.Decremental,
		KeepCompressed: req.KeepCompressed,
	})
}

// Isolate writes a catalogue-only clone of source, optionally rebuilding
// per-file delta signatures.
func Isolate(dataName string, source *catalogue.Catalogue, input *Session, deltaSig bool, sel SelectionOptions) (*catalogue.Catalogue, filter.Stats, error) {
	var in *stack.Stack
	if input != nil {
		in = input.stack
	}
	return filter.Isolate(filter.IsolateOptions{
		DataName:       dataName,
		Source:         source,
		Input:          in,
		DeltaSignature: deltaSig,
		Selection:      sel.Selection,
		Subtree:        sel.Subtree,
	})
}

// Repair reconstructs a catalogue from a damaged archive's tape marks.
func Repair(dataName string, input *Session) (*catalogue.Catalogue, filter.Stats, error) {
	return filter.Repair(filter.RepairOptions{DataName: dataName, Input: input.stack})
}

// statRoot is a tiny convenience used by front-ends to validate
// SourceRoot/TargetRoot exists before an operation spends time walking it.
func statRoot(path string) error {
	if _, err := os.Stat(path); err != nil {
		return direrr.New(direrr.System, "dargo.statRoot", err)
	}
	return nil
}
