package catalogue

import (
	"io"
	"time"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/infinint"
)

// Serialized catalogue records are written as a flat pre-order stream —
// one record per entry, with an Eod record closing each directory — so
// that decoding can rebuild the tree with the same AddCursor machinery
// used while walking a live filesystem (spec §4.2).
//
// Record shape: [tag byte] then, only for inode-bearing tags, a 1-byte
// shared flag (0 = ordinary inode, 1 = first occurrence of a hard-linked
// inode) and, when shared, the etiquette as an infinint; then the
// type-specific fields described per writeXxx function below.

const (
	sharedFlagNone  byte = 0
	sharedFlagFirst byte = 1
)

func writeU64(w io.Writer, v uint64) error {
	return infinint.Encode(w, infinint.FromUint64(v))
}

func readU64(r io.Reader) (uint64, error) {
	n, err := infinint.Decode(r)
	if err != nil {
		return 0, err
	}
	u, ok := n.Uint64()
	if !ok {
		return 0, direrr.Newf(direrr.Range, "catalogue.readU64", "implausible value")
	}
	return u, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeTime(w io.Writer, t time.Time) error {
	return writeU64(w, uint64(t.Unix()))
}

func readTime(r io.Reader) (time.Time, error) {
	u, err := readU64(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(u), 0).UTC(), nil
}

func writeAttrs(w io.Writer, a Attrs) error {
	for _, v := range []uint64{uint64(a.UID), uint64(a.GID), uint64(a.Permission), a.FilesystemDeviceID} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	for _, t := range []time.Time{a.Atime, a.Mtime, a.Ctime} {
		if err := writeTime(w, t); err != nil {
			return err
		}
	}
	return nil
}

func readAttrs(r io.Reader) (Attrs, error) {
	var a Attrs
	vals := make([]uint64, 4)
	for i := range vals {
		u, err := readU64(r)
		if err != nil {
			return a, err
		}
		vals[i] = u
	}
	a.UID, a.GID, a.Permission, a.FilesystemDeviceID = uint32(vals[0]), uint32(vals[1]), uint16(vals[2]), vals[3]
	var err error
	if a.Atime, err = readTime(r); err != nil {
		return a, err
	}
	if a.Mtime, err = readTime(r); err != nil {
		return a, err
	}
	if a.Ctime, err = readTime(r); err != nil {
		return a, err
	}
	return a, nil
}

func writeEASet(w io.Writer, s *EASet) error {
	if s == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1, byte(s.Status)}); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(s.Entries))); err != nil {
		return err
	}
	for _, ea := range s.Entries {
		if err := writeString(w, ea.Key); err != nil {
			return err
		}
		if err := writeBytes(w, ea.Value); err != nil {
			return err
		}
	}
	return nil
}

func readEASet(r io.Reader) (*EASet, error) {
	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return nil, err
	}
	if present[0] == 0 {
		return nil, nil
	}
	var statusByte [1]byte
	if _, err := io.ReadFull(r, statusByte[:]); err != nil {
		return nil, err
	}
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	s := &EASet{Status: SaveStatus(statusByte[0]), Entries: make([]EA, 0, n)}
	for i := uint64(0); i < n; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, EA{Key: key, Value: val})
	}
	return s, nil
}

func writeFSASet(w io.Writer, s *FSASet) error {
	if s == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1, byte(s.Status)}); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(s.Entries))); err != nil {
		return err
	}
	for _, fa := range s.Entries {
		if err := writeString(w, fa.Key); err != nil {
			return err
		}
		if err := writeBytes(w, fa.Value); err != nil {
			return err
		}
	}
	return nil
}

func readFSASet(r io.Reader) (*FSASet, error) {
	var present [1]byte
	if _, err := io.ReadFull(r, present[:]); err != nil {
		return nil, err
	}
	if present[0] == 0 {
		return nil, nil
	}
	var statusByte [1]byte
	if _, err := io.ReadFull(r, statusByte[:]); err != nil {
		return nil, err
	}
	n, err := readU64(r)
	if err != nil {
		return nil, err
	}
	s := &FSASet{Status: SaveStatus(statusByte[0]), Entries: make([]FSA, 0, n)}
	for i := uint64(0); i < n; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, FSA{Key: key, Value: val})
	}
	return s, nil
}

// WriteCatalogue serializes c's entire tree in pre-order (spec §4.2).
func WriteCatalogue(w io.Writer, c *Catalogue) error {
	return writeNode(w, c.Root)
}

func writeNode(w io.Writer, dir *Directory) error {
	if err := writeInodeCommon(w, dir.Tag(), dir.NameField, dir.AttrsField, dir.EAField, dir.FSAField, sharedFlagNone, 0); err != nil {
		return err
	}
	for _, child := range dir.Children {
		if err := writeEntry(w, child); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(TagEOD)})
	return err
}

func writeEntry(w io.Writer, e Entry) error {
	switch v := e.(type) {
	case *Directory:
		return writeNode(w, v)
	case *Etoile:
		return writeSharedInode(w, v.Inode, v.Etiquette)
	case *Mirage:
		if _, err := w.Write([]byte{byte(TagMirage)}); err != nil {
			return err
		}
		if err := writeString(w, v.NameField); err != nil {
			return err
		}
		return writeU64(w, v.Star.Etiquette)
	case Ignored:
		if _, err := w.Write([]byte{byte(TagIgnored)}); err != nil {
			return err
		}
		return writeString(w, v.NameField)
	case IgnoredDir:
		if _, err := w.Write([]byte{byte(TagIgnoredDir)}); err != nil {
			return err
		}
		if err := writeString(w, v.NameField); err != nil {
			return err
		}
		return writeAttrs(w, v.Attrs)
	case Detruit:
		if _, err := w.Write([]byte{byte(TagDetruit)}); err != nil {
			return err
		}
		if err := writeString(w, v.NameField); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(v.Kind)}); err != nil {
			return err
		}
		return writeTime(w, v.Ctime)
	case Eod:
		_, err := w.Write([]byte{byte(TagEOD)})
		return err
	case Inode:
		return writeUnsharedInode(w, v)
	default:
		return direrr.Newf(direrr.Bug, "catalogue.writeEntry", "unknown entry type %T", e)
	}
}

func writeUnsharedInode(w io.Writer, inode Inode) error {
	if err := writeInodeCommon(w, inode.Tag(), inode.Name(), *inode.Attributes(), inode.EA(), inode.FSA(), sharedFlagNone, 0); err != nil {
		return err
	}
	return writeInodeBody(w, inode)
}

func writeSharedInode(w io.Writer, inode Inode, etiquette uint64) error {
	if err := writeInodeCommon(w, inode.Tag(), inode.Name(), *inode.Attributes(), inode.EA(), inode.FSA(), sharedFlagFirst, etiquette); err != nil {
		return err
	}
	return writeInodeBody(w, inode)
}

func writeInodeCommon(w io.Writer, tag EntryTag, name string, attrs Attrs, ea *EASet, fsa *FSASet, shared byte, etiquette uint64) error {
	if _, err := w.Write([]byte{byte(tag), shared}); err != nil {
		return err
	}
	if shared == sharedFlagFirst {
		if err := writeU64(w, etiquette); err != nil {
			return err
		}
	}
	if err := writeString(w, name); err != nil {
		return err
	}
	if err := writeAttrs(w, attrs); err != nil {
		return err
	}
	if err := writeEASet(w, ea); err != nil {
		return err
	}
	return writeFSASet(w, fsa)
}

func writeInodeBody(w io.Writer, inode Inode) error {
	switch v := inode.(type) {
	case *File:
		if err := writeU64(w, uint64(v.Size)); err != nil {
			return err
		}
		if err := writeU64(w, uint64(v.StorageSize)); err != nil {
			return err
		}
		if err := writeU64(w, uint64(v.Offset)); err != nil {
			return err
		}
		if err := writeBytes(w, v.CRC); err != nil {
			return err
		}
		if err := writeU64(w, uint64(v.CompressedOffset)); err != nil {
			return err
		}
		if err := writeU64(w, uint64(v.CompressedSize)); err != nil {
			return err
		}
		dirty := byte(0)
		if v.Dirty {
			dirty = 1
		}
		sparse := byte(0)
		if v.Sparse {
			sparse = 1
		}
		if _, err := w.Write([]byte{dirty, sparse}); err != nil {
			return err
		}
		if v.Sparse {
			if err := writeU64(w, uint64(len(v.SparseRuns))); err != nil {
				return err
			}
			for _, run := range v.SparseRuns {
				if err := writeU64(w, uint64(run.HoleLength)); err != nil {
					return err
				}
				if err := writeU64(w, uint64(run.DataLength)); err != nil {
					return err
				}
			}
		}
		return nil
	case *Directory:
		return nil // directory children are written by writeNode, never reached here
	case *Symlink:
		return writeString(w, v.Target)
	case *Device:
		if _, err := w.Write([]byte{byte(v.KindField)}); err != nil {
			return err
		}
		if err := writeU64(w, uint64(v.Major)); err != nil {
			return err
		}
		return writeU64(w, uint64(v.Minor))
	case *Special:
		_, err := w.Write([]byte{byte(v.KindField)})
		return err
	default:
		return direrr.Newf(direrr.Bug, "catalogue.writeInodeBody", "unknown inode type %T", inode)
	}
}

// ReadCatalogue parses a stream written by WriteCatalogue, rebuilding the
// directory tree and the hard-link table (spec §4.2).
func ReadCatalogue(r io.Reader, dataName string) (*Catalogue, error) {
	c := NewCatalogue(dataName)

	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return nil, err
	}
	inode, isDir, _, _, err := readInodeAfterTag(r, EntryTag(tagByte[0]))
	if err != nil {
		return nil, err
	}
	root, ok := inode.(*Directory)
	if !ok || !isDir {
		return nil, direrr.Newf(direrr.Data, "catalogue.ReadCatalogue", "catalogue stream does not start with a directory record")
	}
	root.Parent = nil
	c.Root = root
	c.StartAdd()

	if err := readChildren(r, c); err != nil {
		return nil, err
	}
	return c, nil
}

// readChildren reads entry records for dir's current add-cursor frame
// until its Eod, recursing into nested directories.
func readChildren(r io.Reader, c *Catalogue) error {
	for {
		var tagByte [1]byte
		if _, err := io.ReadFull(r, tagByte[:]); err != nil {
			return err
		}
		tag := EntryTag(tagByte[0])
		switch tag {
		case TagEOD:
			// Pop the add cursor's frame directly rather than through
			// Catalogue.Add: the root directory's own closing Eod must be
			// allowed to empty the stack, which Add's external API
			// forbids (it protects callers building a catalogue live from
			// popping past the root).
			if len(c.add.stack) == 0 {
				return direrr.Newf(direrr.Bug, "catalogue.readChildren", "unbalanced eod")
			}
			c.add.stack = c.add.stack[:len(c.add.stack)-1]
			return nil
		case TagIgnored:
			name, err := readString(r)
			if err != nil {
				return err
			}
			if err := c.Add(Ignored{NameField: name}); err != nil {
				return err
			}
		case TagIgnoredDir:
			name, err := readString(r)
			if err != nil {
				return err
			}
			attrs, err := readAttrs(r)
			if err != nil {
				return err
			}
			if err := c.Add(IgnoredDir{NameField: name, Attrs: attrs}); err != nil {
				return err
			}
		case TagDetruit:
			name, err := readString(r)
			if err != nil {
				return err
			}
			var kindByte [1]byte
			if _, err := io.ReadFull(r, kindByte[:]); err != nil {
				return err
			}
			ctime, err := readTime(r)
			if err != nil {
				return err
			}
			if err := c.Add(Detruit{NameField: name, Kind: InodeKind(kindByte[0]), Ctime: ctime}); err != nil {
				return err
			}
		case TagMirage:
			name, err := readString(r)
			if err != nil {
				return err
			}
			etiquette, err := readU64(r)
			if err != nil {
				return err
			}
			star := c.Links.Lookup(etiquette)
			if star == nil {
				return direrr.Newf(direrr.Data, "catalogue.readChildren", "mirage %q references unknown etiquette %d", name, etiquette)
			}
			if err := c.Add(c.Links.Link(star, name)); err != nil {
				return err
			}
		default:
			inode, isDir, etiquette, shared, err := readInodeAfterTag(r, tag)
			if err != nil {
				return err
			}
			if shared {
				star := &Etoile{Etiquette: etiquette, Inode: inode}
				c.Links.byEtiquette[etiquette] = star
				if c.Links.next < etiquette {
					c.Links.next = etiquette
				}
				if err := c.Add(star); err != nil {
					return err
				}
			} else if err := c.Add(inode); err != nil {
				return err
			}
			if isDir {
				if err := readChildren(r, c); err != nil {
					return err
				}
			}
		}
	}
}

func readInodeAfterTag(r io.Reader, tag EntryTag) (inode Inode, isDir bool, etiquette uint64, shared bool, err error) {
	kind, status, ok := decodeInodeTag(tag)
	if !ok {
		return nil, false, 0, false, direrr.Newf(direrr.Data, "catalogue.readInodeAfterTag", "unrecognized tag %d", tag)
	}
	var flag [1]byte
	if _, err = io.ReadFull(r, flag[:]); err != nil {
		return
	}
	shared = flag[0] == sharedFlagFirst
	if shared {
		if etiquette, err = readU64(r); err != nil {
			return
		}
	}
	var name string
	if name, err = readString(r); err != nil {
		return
	}
	var attrs Attrs
	if attrs, err = readAttrs(r); err != nil {
		return
	}
	var ea *EASet
	if ea, err = readEASet(r); err != nil {
		return
	}
	var fsa *FSASet
	if fsa, err = readFSASet(r); err != nil {
		return
	}
	switch kind {
	case KindFile:
		f := &File{NameField: name, AttrsField: attrs, StatusField: status, EAField: ea, FSAField: fsa}
		var size, storage, offset uint64
		if size, err = readU64(r); err != nil {
			return
		}
		if storage, err = readU64(r); err != nil {
			return
		}
		if offset, err = readU64(r); err != nil {
			return
		}
		f.Size, f.StorageSize, f.Offset = int64(size), int64(storage), int64(offset)
		if f.CRC, err = readBytes(r); err != nil {
			return
		}
		var compOffset, compSize uint64
		if compOffset, err = readU64(r); err != nil {
			return
		}
		if compSize, err = readU64(r); err != nil {
			return
		}
		f.CompressedOffset, f.CompressedSize = int64(compOffset), int64(compSize)
		var flags [2]byte
		if _, err = io.ReadFull(r, flags[:]); err != nil {
			return
		}
		f.Dirty = flags[0] == 1
		f.Sparse = flags[1] == 1
		if f.Sparse {
			var n uint64
			if n, err = readU64(r); err != nil {
				return
			}
			for i := uint64(0); i < n; i++ {
				var hole, data uint64
				if hole, err = readU64(r); err != nil {
					return
				}
				if data, err = readU64(r); err != nil {
					return
				}
				f.SparseRuns = append(f.SparseRuns, SparseRun{HoleLength: int64(hole), DataLength: int64(data)})
			}
		}
		inode = f
	case KindDirectory:
		d := &Directory{NameField: name, AttrsField: attrs, StatusField: status, EAField: ea, FSAField: fsa}
		inode = d
		isDir = true
	case KindSymlink:
		target, e := readString(r)
		if e != nil {
			err = e
			return
		}
		inode = &Symlink{NameField: name, AttrsField: attrs, StatusField: status, EAField: ea, FSAField: fsa, Target: target}
	case KindBlockDevice, KindCharDevice:
		var kb [1]byte
		if _, err = io.ReadFull(r, kb[:]); err != nil {
			return
		}
		var major, minor uint64
		if major, err = readU64(r); err != nil {
			return
		}
		if minor, err = readU64(r); err != nil {
			return
		}
		inode = &Device{NameField: name, AttrsField: attrs, StatusField: status, EAField: ea, FSAField: fsa,
			KindField: InodeKind(kb[0]), Major: uint32(major), Minor: uint32(minor)}
	default:
		var kb [1]byte
		if _, err = io.ReadFull(r, kb[:]); err != nil {
			return
		}
		inode = &Special{NameField: name, AttrsField: attrs, StatusField: status, EAField: ea, FSAField: fsa, KindField: InodeKind(kb[0])}
	}
	return
}
