// Package direrr classifies engine errors into the closed set of kinds the
// archive engine distinguishes, mirroring the error taxonomy of the system
// this engine's filter pipeline is modeled on: a handful of kinds that
// callers branch on (abort vs. count-and-continue), rather than an open set
// of ad-hoc error strings.
package direrr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the closed set of error categories the engine raises.
type Kind int

const (
	// Bug indicates an internal invariant was violated; the operation must abort.
	Bug Kind = iota
	// Memory indicates an allocation failure; the current operation aborts.
	Memory
	// Range indicates an invalid argument or malformed archive data; recoverable at the caller.
	Range
	// Hardware indicates an I/O failure on storage; may be retried per entrepot policy.
	Hardware
	// Data indicates archive content failed a CRC or authentication check.
	Data
	// UserAbort indicates the user-interaction callback requested termination.
	UserAbort
	// Script indicates an inter-slice script exited non-zero.
	Script
	// Feature indicates a requested feature was not compiled in (e.g. an unavailable cipher/compressor).
	Feature
	// Compilation is unreachable in this build; kept for parity with the spec's error-kind enumeration.
	Compilation
	// ThreadCancel indicates cooperative cancellation was observed at a checkpoint.
	ThreadCancel
	// System indicates a filesystem-level condition (exists/not-found/permission) recoverable per overwriting policy.
	System
	// Libcall indicates API misuse by the caller.
	Libcall
)

func (k Kind) String() string {
	switch k {
	case Bug:
		return "bug"
	case Memory:
		return "memory"
	case Range:
		return "range"
	case Hardware:
		return "hardware"
	case Data:
		return "data"
	case UserAbort:
		return "user-abort"
	case Script:
		return "script"
	case Feature:
		return "feature"
	case Compilation:
		return "compilation"
	case ThreadCancel:
		return "thread-cancel"
	case System:
		return "system"
	case Libcall:
		return "libcall"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type the engine raises; it carries a Kind so callers
// can decide whether to abort the whole operation or merely count it in
// statistics and move on, per the propagation rules of the filter pipeline.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New wraps err with the given kind and operation name, using pkg/errors so
// the wrap carries a stack trace usable by the logging layer.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: errors.WithStack(err)}
}

// Newf builds a new Error from a format string, stack-trace-annotated.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, err: errors.Errorf(format, args...)}
}

// Is reports whether the first *Error found in err's wrap chain (err
// itself included) has the given Kind; *Error values deeper in the chain
// are not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}

// Fatal reports whether a Kind must abort the whole operation rather than
// merely being counted in per-entry statistics, per the filter pipeline's
// propagation rules (spec §7).
func Fatal(kind Kind) bool {
	switch kind {
	case Bug, Memory, UserAbort, ThreadCancel:
		return true
	default:
		return false
	}
}

// ExitCode maps an error to the suggested CLI exit code (spec §6); returns 0
// for a nil error. The CLI front-end itself is out of scope — this mapping
// is exposed so one can be built against it without re-deriving the table.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	cur := err
	for cur != nil {
		if as, ok := cur.(*Error); ok {
			e = as
			break
		}
		cur = errors.Unwrap(cur)
	}
	if e == nil {
		return 11
	}
	switch e.Kind {
	case Range, System, Libcall:
		return 2
	case Hardware, Data:
		return 3
	case Memory:
		return 4
	case Feature:
		return 5
	case ThreadCancel, UserAbort:
		return 6
	case Bug, Script, Compilation:
		return 11
	default:
		return 11
	}
}
