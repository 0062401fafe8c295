package filter

import "github.com/dargo-project/dargo/internal/catalogue"

// WhatToCheck selects which inode fields a comparison considers "changed"
// (spec §4.3: "what-to-check (which inode fields to compare: all /
// ignore-owner / mtime-only / inode-type-only)").
type WhatToCheck int

const (
	CheckAll WhatToCheck = iota
	CheckIgnoreOwner
	CheckMtimeOnly
	CheckInodeTypeOnly
)

// Changed reports whether candidate differs from reference under this
// WhatToCheck policy. Both attrs must belong to the same Kind for
// anything beyond CheckInodeTypeOnly to be meaningful; callers compare
// Kind separately first.
func (w WhatToCheck) Changed(reference, candidate catalogue.Attrs) bool {
	switch w {
	case CheckInodeTypeOnly:
		return false // kind equality already established by the caller
	case CheckMtimeOnly:
		return !candidate.Mtime.Equal(reference.Mtime)
	case CheckIgnoreOwner:
		return !candidate.Mtime.Equal(reference.Mtime) ||
			candidate.Permission != reference.Permission
	default: // CheckAll
		return !candidate.Mtime.Equal(reference.Mtime) ||
			candidate.Permission != reference.Permission ||
			candidate.UID != reference.UID ||
			candidate.GID != reference.GID
	}
}

// KindChanged reports whether the two inodes' kinds differ — always
// significant regardless of WhatToCheck.
func KindChanged(reference, candidate catalogue.Inode) bool {
	return reference.Kind() != candidate.Kind()
}
