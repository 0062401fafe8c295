// Package policy implements the overwriting-policy evaluator: a small
// expression language over a pair of entries (in_place, to_be_added) that
// produces data/EA overwrite decisions during restore and merge (spec
// §4.4). Criteria and actions are interfaces with one small struct per
// variant, dispatched by Go's ordinary interface method calls rather than
// a virtual-inheritance hierarchy (design notes §9).
package policy

import (
	"time"

	"github.com/dargo-project/dargo/internal/catalogue"
)

// Pair is the two entries an overwriting policy compares: the entry
// already present at the destination and the one about to replace or
// merge with it.
type Pair struct {
	InPlace    catalogue.Entry
	ToBeAdded  catalogue.Entry
}

func inode(e catalogue.Entry) (catalogue.Inode, bool) {
	i, ok := e.(catalogue.Inode)
	return i, ok
}

// Criterion is a boolean predicate over a Pair (spec §4.4).
type Criterion interface {
	Eval(p Pair) bool
}

// CriterionFunc adapts a plain function to the Criterion interface.
type CriterionFunc func(p Pair) bool

func (f CriterionFunc) Eval(p Pair) bool { return f(p) }

// Structural criteria.

// InPlaceIsInode is true when the in-place entry is any inode subtype.
var InPlaceIsInode Criterion = CriterionFunc(func(p Pair) bool {
	_, ok := inode(p.InPlace)
	return ok
})

// InPlaceIsDir is true when the in-place entry is a directory.
var InPlaceIsDir Criterion = CriterionFunc(func(p Pair) bool {
	i, ok := inode(p.InPlace)
	return ok && i.Kind() == catalogue.KindDirectory
})

// InPlaceIsFile is true when the in-place entry is a regular file.
var InPlaceIsFile Criterion = CriterionFunc(func(p Pair) bool {
	i, ok := inode(p.InPlace)
	return ok && i.Kind() == catalogue.KindFile
})

// InPlaceIsHardlinked is true when the in-place entry is a Mirage or an
// Etoile with more than one link.
var InPlaceIsHardlinked Criterion = CriterionFunc(func(p Pair) bool {
	switch v := p.InPlace.(type) {
	case *catalogue.Mirage:
		return true
	case *catalogue.Etoile:
		return v.RefCount() > 1
	}
	return false
})

// InPlaceIsNewHardlinked is true when the to-be-added entry introduces a
// hard link to an inode that was not previously shared (the first
// Etoile/Mirage pair created for it).
var InPlaceIsNewHardlinked Criterion = CriterionFunc(func(p Pair) bool {
	star, ok := p.ToBeAdded.(*catalogue.Etoile)
	return ok && star.RefCount() == 2
})

// SameType is true when both entries are inodes of the same InodeKind, or
// both are non-inode entries of the same concrete kind (e.g. both
// Detruit).
var SameType Criterion = CriterionFunc(func(p Pair) bool {
	ii, iok := inode(p.InPlace)
	ai, aok := inode(p.ToBeAdded)
	if iok != aok {
		return false
	}
	if iok {
		return ii.Kind() == ai.Kind()
	}
	return p.InPlace.Tag() == p.ToBeAdded.Tag()
})

// Data-comparison criteria.

func mtimeOf(e catalogue.Entry) (time.Time, bool) {
	i, ok := inode(e)
	if !ok {
		return time.Time{}, false
	}
	return i.Attributes().Mtime, true
}

// DataMoreRecent is true when to-be-added's mtime is strictly later than
// in-place's, shifted by hourshift (spec §4.4: "data_more_recent[(hourshift)]",
// a tolerance for filesystems that round mtimes to the hour).
func DataMoreRecent(hourshift time.Duration) Criterion {
	return CriterionFunc(func(p Pair) bool {
		inPlaceT, ok1 := mtimeOf(p.InPlace)
		addedT, ok2 := mtimeOf(p.ToBeAdded)
		if !ok1 || !ok2 {
			return false
		}
		return addedT.After(inPlaceT.Add(hourshift))
	})
}

// DataMoreRecentOrEqualTo is true when to-be-added's mtime is at or after
// date, shifted by hourshift.
func DataMoreRecentOrEqualTo(date time.Time, hourshift time.Duration) Criterion {
	return CriterionFunc(func(p Pair) bool {
		addedT, ok := mtimeOf(p.ToBeAdded)
		if !ok {
			return false
		}
		return !addedT.Before(date.Add(hourshift))
	})
}

// DataBigger is true when to-be-added's file size exceeds in-place's.
var DataBigger Criterion = CriterionFunc(func(p Pair) bool {
	af, aok := p.InPlace.(*catalogue.File)
	bf, bok := p.ToBeAdded.(*catalogue.File)
	return aok && bok && bf.Size > af.Size
})

// DataSaved is true when to-be-added's save status is StatusSaved.
var DataSaved Criterion = CriterionFunc(func(p Pair) bool {
	i, ok := inode(p.ToBeAdded)
	return ok && i.Status() == catalogue.StatusSaved
})

// DataDirty is true when to-be-added is a file flagged dirty (modified
// mid-backup, spec §3 glossary "dirty").
var DataDirty Criterion = CriterionFunc(func(p Pair) bool {
	f, ok := p.ToBeAdded.(*catalogue.File)
	return ok && f.Dirty
})

// DataSparse is true when to-be-added is a sparse file.
var DataSparse Criterion = CriterionFunc(func(p Pair) bool {
	f, ok := p.ToBeAdded.(*catalogue.File)
	return ok && f.Sparse
})

// HasDeltaSig reports whether e has an associated delta signature,
// consulting fn (the filter pipeline's lookup) since the plain
// catalogue.Entry type carries no delta-signature field of its own.
func HasDeltaSig(fn func(catalogue.Entry) bool) Criterion {
	return CriterionFunc(func(p Pair) bool { return fn(p.ToBeAdded) })
}

// EA-comparison criteria.

func eaOf(e catalogue.Entry) *catalogue.EASet {
	i, ok := inode(e)
	if !ok {
		return nil
	}
	return i.EA()
}

// EAPresent is true when to-be-added carries any extended attributes.
var EAPresent Criterion = CriterionFunc(func(p Pair) bool {
	ea := eaOf(p.ToBeAdded)
	return ea != nil && len(ea.Entries) > 0
})

// EAMoreRecent mirrors DataMoreRecent but compares ctime (the point at
// which EA were last changed), since EA have their own independent save
// status and timestamp (spec §4.4).
func EAMoreRecent(hourshift time.Duration) Criterion {
	return CriterionFunc(func(p Pair) bool {
		ai, aok := inode(p.InPlace)
		bi, bok := inode(p.ToBeAdded)
		if !aok || !bok {
			return false
		}
		return bi.Attributes().Ctime.After(ai.Attributes().Ctime.Add(hourshift))
	})
}

// EAMoreRecentOrEqualTo mirrors DataMoreRecentOrEqualTo for EA ctime.
func EAMoreRecentOrEqualTo(date time.Time, hourshift time.Duration) Criterion {
	return CriterionFunc(func(p Pair) bool {
		bi, ok := inode(p.ToBeAdded)
		if !ok {
			return false
		}
		return !bi.Attributes().Ctime.Before(date.Add(hourshift))
	})
}

// MoreEA is true when to-be-added has strictly more EA entries than
// in-place.
var MoreEA Criterion = CriterionFunc(func(p Pair) bool {
	a, b := eaOf(p.InPlace), eaOf(p.ToBeAdded)
	an, bn := 0, 0
	if a != nil {
		an = len(a.Entries)
	}
	if b != nil {
		bn = len(b.Entries)
	}
	return bn > an
})

// EABigger is true when to-be-added's EA set has a larger total byte size
// than in-place's.
var EABigger Criterion = CriterionFunc(func(p Pair) bool {
	return eaByteSize(eaOf(p.ToBeAdded)) > eaByteSize(eaOf(p.InPlace))
})

func eaByteSize(s *catalogue.EASet) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ea := range s.Entries {
		n += len(ea.Key) + len(ea.Value)
	}
	return n
}

// EASaved is true when to-be-added's EA set has save status StatusSaved.
var EASaved Criterion = CriterionFunc(func(p Pair) bool {
	ea := eaOf(p.ToBeAdded)
	return ea != nil && ea.Status == catalogue.StatusSaved
})

// Combinators.

// Not inverts c.
func Not(c Criterion) Criterion {
	return CriterionFunc(func(p Pair) bool { return !c.Eval(p) })
}

// And is true only when every criterion in cs is true (short-circuits).
func And(cs ...Criterion) Criterion {
	return CriterionFunc(func(p Pair) bool {
		for _, c := range cs {
			if !c.Eval(p) {
				return false
			}
		}
		return true
	})
}

// Or is true when any criterion in cs is true (short-circuits).
func Or(cs ...Criterion) Criterion {
	return CriterionFunc(func(p Pair) bool {
		for _, c := range cs {
			if c.Eval(p) {
				return true
			}
		}
		return false
	})
}

// Invert evaluates c with InPlace and ToBeAdded swapped (spec §4.4:
// "invert (swap operands)").
func Invert(c Criterion) Criterion {
	return CriterionFunc(func(p Pair) bool {
		return c.Eval(Pair{InPlace: p.ToBeAdded, ToBeAdded: p.InPlace})
	})
}
