package catalogue

// EA is a single extended attribute (namespace.key -> value), spec §3.
type EA struct {
	Key   string
	Value []byte
}

// EASet is the ordered collection of extended attributes attached to an
// inode, plus whether it was saved this run (spec §3: EA have their own
// independent save status from the inode's data).
type EASet struct {
	Entries []EA
	Status  SaveStatus
}

// FSA is a single filesystem-specific attribute (e.g. a BSD flag, an NTFS
// attribute bit), spec §3.
type FSA struct {
	Key   string
	Value []byte
}

// FSASet mirrors EASet for filesystem-specific attributes.
type FSASet struct {
	Entries []FSA
	Status  SaveStatus
}

// SparseRun describes one run of a sparse file: a hole of HoleLength bytes
// followed by DataLength bytes of real data (spec §3, glossary "sparse
// file"). A file's full sparse layout is a slice of SparseRun.
type SparseRun struct {
	HoleLength int64
	DataLength int64
}

// DeltaBlock is one fixed-size block's rolling-checksum signature, used by
// the isolate filter's delta-signature option and consulted by a later
// differential backup to skip re-reading unchanged blocks (spec §4.3
// "isolate filter", glossary "delta_signature").
type DeltaBlock struct {
	Weak   uint32 // Adler-32-style rolling checksum
	Strong []byte // SHA-1 of the block, resolves weak-checksum collisions
}

// CRCWidth reports the narrowest of the four supported widths {1,2,4,8}
// bytes that can represent a value covering n bytes of input, the
// "simplest width consistent with the covered size" heuristic documented
// in SPEC_FULL.md (Open Questions: no reference archive was available to
// recover the original width-selection rule bit for bit).
func CRCWidth(coveredBytes int64) int {
	switch {
	case coveredBytes < 1<<8:
		return 1
	case coveredBytes < 1<<16:
		return 2
	case coveredBytes < 1<<32:
		return 4
	default:
		return 8
	}
}
