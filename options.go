// Package dargo is the public API tying the engine's internal packages —
// byte-stream stack, catalogue, overwriting policy, and filter drivers —
// into the handful of operations a front-end (CLI or otherwise) actually
// calls: Backup, Restore, Diff, Test, Merge, Isolate, Repair.
package dargo

import (
	"context"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/entrepot"
	"github.com/dargo-project/dargo/internal/filter"
	"github.com/dargo-project/dargo/internal/policy"
	"github.com/dargo-project/dargo/internal/stack"
	"github.com/dargo-project/dargo/internal/userio"
)

// ArchiveConfig describes one archive's on-disk representation: where its
// slices live, how they're named, and how the byte-stream stack above
// them is built (spec §3, §4.1, §6).
type ArchiveConfig struct {
	Store    entrepot.Entrepot
	Basename string

	Extension string
	Layout    *stack.SliceLayout // nil means unsliced (single logical slice)

	Compression        stack.CompressorAlgo
	CompressionLevel    int
	CompressionMinSize  int64

	Cipher         stack.CipherAlgo
	Passphrase     *userio.SecureString // nil disables ciphering
	KDFIterations  int
	AllowWeakCipher bool

	HashAlgo HashSidecarAlgo // integrity hash computed over the whole archive stream; no sidecar file is written

	TapeMarks bool // frame the stream with escape/tape marks for sequential recovery
}

// HashSidecarAlgo names the per-slice sidecar digest algorithm, or "" to
// disable sidecar hashing.
type HashSidecarAlgo = stack.HashAlgo

// SelectionOptions bundles the three mask kinds every filter driver
// consults (spec §4.3).
type SelectionOptions struct {
	Selection filter.SelectionMask
	Subtree   filter.SubtreeMask
	EA        filter.EAMask
}

// Session owns one archive's byte-stream stack and provides the engine
// operations over it. Build one with OpenForWrite/OpenForRead and Close it
// when done (this Terminates the underlying stack, writing the trailer on
// a write session).
type Session struct {
	ctx      context.Context
	cfg      ArchiveConfig
	stack    *stack.Stack
	mode     stack.Mode
	header   stack.Header
	dataName string // recovered from the data-name tape mark on a read session
}

// DataName returns the archive's 16-byte-opaque identity label: the value
// passed as Basename at OpenForWrite, recovered from the data-name tape
// mark on a read session (spec §3 "data_name", §6 "[tape-mark: data-name]").
func (s *Session) DataName() string { return s.dataName }

// Close terminates the underlying byte-stream stack.
func (s *Session) Close() error {
	if s.stack == nil {
		return nil
	}
	return s.stack.Terminate()
}

// Stack exposes the underlying byte-stream stack for callers building a
// catalogue.Catalogue or a filter.BackupOptions/RestoreOptions directly.
func (s *Session) Stack() *stack.Stack { return s.stack }

// Header returns the archive header this session was opened with
// (recovered from the trailer on a read session, freshly built on a
// write session).
func (s *Session) Header() stack.Header { return s.header }

// Mode reports whether this session was opened for reading or writing.
func (s *Session) Mode() stack.Mode { return s.mode }

// Context returns the context this session was opened with, used by any
// long-running entrepot call the underlying slicer makes.
func (s *Session) Context() context.Context { return s.ctx }

// InteractionAsk adapts a userio.Interaction into the policy package's
// AskFunc, resolving an `ask` leaf in an overwriting-policy tree by
// prompting the user with the pair's two entry names.
func InteractionAsk(ui userio.Interaction) policy.AskFunc {
	return func(p policy.Pair) policy.Decision {
		name := p.ToBeAdded.Name()
		answer, err := ui.Pause("overwrite " + name + "?")
		if err != nil || !answer {
			return policy.Decision{Data: policy.DataPreserve, EA: policy.EAPreserve}
		}
		return policy.Decision{Data: policy.DataOverwrite, EA: policy.EAOverwrite}
	}
}

// NewCatalogue is a thin convenience wrapper so callers don't need to
// import internal/catalogue themselves just to start a fresh one.
func NewCatalogue(dataName string) *catalogue.Catalogue { return catalogue.NewCatalogue(dataName) }
