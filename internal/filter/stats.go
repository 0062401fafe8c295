package filter

// Stats accumulates the counters a filter operation reports at the end
// of its pass. Not every driver populates every field (spec §4.3 lists
// the backup filter's field set explicitly; the other drivers reuse the
// same struct for the counters that apply to them).
type Stats struct {
	Treated        int64
	HardLinks      int64
	Skipped        int64 // unchanged, not re-saved
	Ignored        int64 // excluded by a mask
	TooOld         int64 // security check: ctime newer than reference triggered
	Errored        int64
	Deleted        int64 // carried forward as a detruit tombstone
	EATreated      int64
	ByteRead       int64
	ByteCompressed int64

	// Mismatches accumulates (path, reason) pairs for diff/test, which
	// report per-entry findings rather than plain counters.
	Mismatches []Mismatch
}

// Mismatch is one diff/test finding.
type Mismatch struct {
	Path   string
	Reason string
}

func (s *Stats) addMismatch(path, reason string) {
	s.Mismatches = append(s.Mismatches, Mismatch{Path: path, Reason: reason})
}

// Merge folds other's counters into s, used when a filter recurses into
// subtrees processed by an independent Stats accumulator.
func (s *Stats) Merge(other Stats) {
	s.Treated += other.Treated
	s.HardLinks += other.HardLinks
	s.Skipped += other.Skipped
	s.Ignored += other.Ignored
	s.TooOld += other.TooOld
	s.Errored += other.Errored
	s.Deleted += other.Deleted
	s.EATreated += other.EATreated
	s.ByteRead += other.ByteRead
	s.ByteCompressed += other.ByteCompressed
	s.Mismatches = append(s.Mismatches, other.Mismatches...)
}
