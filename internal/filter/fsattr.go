package filter

import (
	"encoding/binary"
	"os"
	"sort"
	"syscall"

	"github.com/dargo-project/dargo/internal/catalogue"
)

// statKey identifies a kernel inode for hard-link detection: (device,
// inode) pairs are unique within one filesystem, which is all a single
// backup run needs (spec §4.2, glossary "etoile"/"mirage").
type statKey struct {
	dev, ino uint64
}

// attrsFromFileInfo builds a catalogue.Attrs plus the inode's statKey and
// link count from a live os.FileInfo. This reaches into syscall.Stat_t
// directly (Unix-only) because the stdlib os.FileInfo interface exposes
// none of uid/gid/device-id/link-count/inode-number — an OS-boundary
// concern with no ecosystem library fit in this corpus (see DESIGN.md).
func attrsFromFileInfo(fi os.FileInfo) (catalogue.Attrs, statKey, uint64) {
	a := catalogue.Attrs{
		Permission: uint16(fi.Mode().Perm()),
		Mtime:      fi.ModTime(),
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return a, statKey{}, 1
	}
	a.UID = st.Uid
	a.GID = st.Gid
	a.FilesystemDeviceID = uint64(st.Dev)
	a.Ctime = statCtime(st)
	a.Atime = statAtime(st)
	return a, statKey{dev: uint64(st.Dev), ino: st.Ino}, uint64(st.Nlink)
}

// populateEA reads fsPath's extended attributes through the platform's
// listxattr/getxattr syscalls (fsattr_linux.go/fsattr_darwin.go), keeping
// only names opts.EA selects (spec §4.3 step 2: "save extended
// attributes, restricted to the EA mask"). On success the *EASet is never
// nil; it is empty when the filesystem reported no selected attributes.
func populateEA(fsPath string, mask EAMask) (*catalogue.EASet, error) {
	names, err := listXattr(fsPath)
	if err != nil {
		return nil, err
	}
	set := &catalogue.EASet{Status: catalogue.StatusSaved}
	for _, name := range names {
		if !mask.Selects(name) {
			continue
		}
		value, err := getXattr(fsPath, name)
		if err != nil {
			return nil, err
		}
		set.Entries = append(set.Entries, catalogue.EA{Key: name, Value: value})
	}
	sortEA(set.Entries)
	return set, nil
}

// populateFSA reads fsPath's filesystem-specific attribute flags (Linux
// FS_IOC_GETFLAGS / Darwin st_flags, via fsattr_linux.go/fsattr_darwin.go)
// into a single synthetic "flags" entry (spec §3, glossary "FSA").
func populateFSA(fsPath string) (*catalogue.FSASet, error) {
	flags, err := readFSFlags(fsPath)
	if err != nil {
		return nil, err
	}
	set := &catalogue.FSASet{Status: catalogue.StatusSaved}
	if flags != 0 {
		set.Entries = append(set.Entries, catalogue.FSA{Key: "flags", Value: encodeFlags(flags)})
	}
	return set, nil
}

func encodeFlags(flags uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, flags)
	return b
}

func decodeFlags(v []byte) uint32 {
	if len(v) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

func sortEA(entries []catalogue.EA) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// eaMap indexes an EASet by key for comparison and merge purposes; a nil
// set yields an empty map.
func eaMap(s *catalogue.EASet) map[string][]byte {
	m := make(map[string][]byte)
	if s == nil {
		return m
	}
	for _, e := range s.Entries {
		m[e.Key] = e.Value
	}
	return m
}

// eaSetsDiffer reports whether a and b carry different extended
// attributes, ignoring Status (spec §4.3 "Diff filter" EA comparison).
func eaSetsDiffer(a, b *catalogue.EASet) bool {
	am, bm := eaMap(a), eaMap(b)
	if len(am) != len(bm) {
		return true
	}
	for k, v := range am {
		bv, ok := bm[k]
		if !ok || !bytesEqual(v, bv) {
			return true
		}
	}
	return false
}

// fsaSetsDiffer mirrors eaSetsDiffer for filesystem-specific attributes.
func fsaSetsDiffer(a, b *catalogue.FSASet) bool {
	var af, bf uint32
	if a != nil {
		for _, e := range a.Entries {
			if e.Key == "flags" {
				af = decodeFlags(e.Value)
			}
		}
	}
	if b != nil {
		for _, e := range b.Entries {
			if e.Key == "flags" {
				bf = decodeFlags(e.Value)
			}
		}
	}
	return af != bf
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// writeEA applies set's entries to fsPath via setxattr, used both when
// saving a freshly created restore target and when an EAAction calls for
// overwriting an existing one.
func writeEA(fsPath string, set *catalogue.EASet) error {
	if set == nil {
		return nil
	}
	for _, e := range set.Entries {
		if err := setXattr(fsPath, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// clearEA removes every extended attribute currently on fsPath.
func clearEA(fsPath string) error {
	names, err := listXattr(fsPath)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := removeXattr(fsPath, name); err != nil {
			return err
		}
	}
	return nil
}

// mergeEA writes set's entries to fsPath, skipping any key already
// present when overwrite is false (EAMergePreserve) and overwriting every
// key when true (EAMergeOverwrite).
func mergeEA(fsPath string, set *catalogue.EASet, overwrite bool) error {
	if set == nil {
		return nil
	}
	existing, err := listXattr(fsPath)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, n := range existing {
		present[n] = true
	}
	for _, e := range set.Entries {
		if present[e.Key] && !overwrite {
			continue
		}
		if err := setXattr(fsPath, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// applyFSA writes set's flags entry to fsPath via the platform's
// FS_IOC_SETFLAGS ioctl / chflags.
func applyFSA(fsPath string, set *catalogue.FSASet) error {
	if set == nil {
		return nil
	}
	for _, e := range set.Entries {
		if e.Key == "flags" {
			return writeFSFlags(fsPath, decodeFlags(e.Value))
		}
	}
	return nil
}

func inodeKindOf(fi os.FileInfo) catalogue.InodeKind {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return catalogue.KindSymlink
	case fi.IsDir():
		return catalogue.KindDirectory
	case fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice != 0:
		return catalogue.KindCharDevice
	case fi.Mode()&os.ModeDevice != 0:
		return catalogue.KindBlockDevice
	case fi.Mode()&os.ModeNamedPipe != 0:
		return catalogue.KindNamedPipe
	case fi.Mode()&os.ModeSocket != 0:
		return catalogue.KindUnixSocket
	default:
		return catalogue.KindFile
	}
}
