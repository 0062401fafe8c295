package stack

import "github.com/dargo-project/dargo/internal/direrr"

// SliceLayout describes how a logical archive offset maps onto
// (slice-number, byte-offset-within-slice), per spec.md §3. Zero sizes mean
// "not sliced" (a single unbounded slice).
type SliceLayout struct {
	FirstSliceSize      int64
	OtherSliceSize       int64
	FirstSliceHeaderSize int64
	OtherSliceHeaderSize int64
	Legacy               bool
}

// Sliced reports whether this layout actually splits the archive.
func (sl SliceLayout) Sliced() bool {
	return sl.OtherSliceSize > 0
}

// capacityOf returns the usable payload capacity of slice number n (1-based).
func (sl SliceLayout) capacityOf(n int64) int64 {
	if n == 1 {
		return sl.FirstSliceSize - sl.FirstSliceHeaderSize
	}
	return sl.OtherSliceSize - sl.OtherSliceHeaderSize
}

// WhichSlice maps a logical offset to (slice number [1-based], offset
// within the slice's payload region, i.e. excluding that slice's header).
func (sl SliceLayout) WhichSlice(logicalOffset int64) (sliceNum int64, offsetInSlice int64, err error) {
	if logicalOffset < 0 {
		return 0, 0, direrr.Newf(direrr.Range, "stack.WhichSlice", "negative offset %d", logicalOffset)
	}
	if !sl.Sliced() {
		return 1, logicalOffset, nil
	}
	firstCap := sl.capacityOf(1)
	if firstCap <= 0 {
		return 0, 0, direrr.Newf(direrr.Range, "stack.WhichSlice", "non-positive first-slice capacity")
	}
	if logicalOffset < firstCap {
		return 1, logicalOffset, nil
	}
	rest := logicalOffset - firstCap
	otherCap := sl.capacityOf(2)
	if otherCap <= 0 {
		return 0, 0, direrr.Newf(direrr.Range, "stack.WhichSlice", "non-positive other-slice capacity")
	}
	n := rest / otherCap
	off := rest % otherCap
	return 2 + n, off, nil
}

// ReconstructOffset is the inverse of WhichSlice: given a (slice,
// offset-within-slice) pair, it returns the logical archive offset. This
// and WhichSlice together satisfy the round-trip invariant from spec.md §8:
// "for all slice layouts SL and offsets X, reconstruct_offset(SL,
// which_slice(SL, X)) = X".
func (sl SliceLayout) ReconstructOffset(sliceNum, offsetInSlice int64) (int64, error) {
	if sliceNum < 1 {
		return 0, direrr.Newf(direrr.Range, "stack.ReconstructOffset", "slice number must be >= 1, got %d", sliceNum)
	}
	if !sl.Sliced() || sliceNum == 1 {
		return offsetInSlice, nil
	}
	firstCap := sl.capacityOf(1)
	otherCap := sl.capacityOf(2)
	return firstCap + (sliceNum-2)*otherCap + offsetInSlice, nil
}
