package catalogue

// File is a regular file inode (spec §3). Size/StorageSize are the
// decompressed and on-disk (possibly compressed) byte counts; StorageSize
// is 0 when the data was stored uncompressed. Offset is the byte offset of
// the file's data within the archive's byte-stream stack.
type File struct {
	NameField   string
	AttrsField  Attrs
	StatusField SaveStatus
	EAField     *EASet
	FSAField    *FSASet

	Size        int64
	StorageSize int64
	Offset      int64
	CRC         []byte
	Dirty       bool // modified during backup (spec §3, glossary "dirty")

	// CompressedOffset/CompressedSize locate this file's bytes in the
	// stack's layer immediately below the compressor (i.e. already
	// compressed, not yet enciphered), letting a later merge copy them
	// straight through without a decompress/recompress round trip (spec
	// §4.3 "Merge filter", KeepCompressed). Zero when the archive carries
	// no compressor layer or the file was stored uncompressed.
	CompressedOffset int64
	CompressedSize   int64

	Sparse     bool
	SparseRuns []SparseRun

	// DeltaSig holds a rolling-checksum signature rebuilt by the isolate
	// filter's delta-signature option, consumed by a later differential
	// backup to transfer only changed blocks. Nil when no signature has
	// been computed.
	DeltaSig []DeltaBlock

	// Etiquette is non-zero when this file is the first occurrence of a
	// hard-linked inode; the catalogue's Etoile table owns the canonical
	// copy and this field links back to it (see hardlink.go). Zero means
	// this is an ordinary, unshared file.
	Etiquette uint64
}

func (f *File) Tag() EntryTag       { return inodeTag(KindFile, f.StatusField) }
func (f *File) Name() string        { return f.NameField }
func (f *File) Kind() InodeKind     { return KindFile }
func (f *File) Status() SaveStatus  { return f.StatusField }
func (f *File) Attributes() *Attrs  { return &f.AttrsField }
func (f *File) EA() *EASet          { return f.EAField }
func (f *File) FSA() *FSASet        { return f.FSAField }

// Directory is a directory inode; its children live in an ordered slice
// owned by the directory, with cached aggregate statistics (spec §3:
// "caches its own recursive size and storage-size so repeated traversal
// does not re-walk subtrees").
type Directory struct {
	NameField   string
	AttrsField  Attrs
	StatusField SaveStatus
	EAField     *EASet
	FSAField    *FSASet

	Parent   *Directory
	Children []Entry

	recursiveSize        int64
	recursiveStorageSize int64
	cacheValid           bool
	recursiveHasChanged  bool
}

func (d *Directory) Tag() EntryTag      { return inodeTag(KindDirectory, d.StatusField) }
func (d *Directory) Name() string       { return d.NameField }
func (d *Directory) Kind() InodeKind    { return KindDirectory }
func (d *Directory) Status() SaveStatus { return d.StatusField }
func (d *Directory) Attributes() *Attrs { return &d.AttrsField }
func (d *Directory) EA() *EASet         { return d.EAField }
func (d *Directory) FSA() *FSASet       { return d.FSAField }

// Symlink is a symbolic link inode, storing the link's target text.
type Symlink struct {
	NameField   string
	AttrsField  Attrs
	StatusField SaveStatus
	EAField     *EASet
	FSAField    *FSASet
	Target      string
}

func (s *Symlink) Tag() EntryTag      { return inodeTag(KindSymlink, s.StatusField) }
func (s *Symlink) Name() string       { return s.NameField }
func (s *Symlink) Kind() InodeKind    { return KindSymlink }
func (s *Symlink) Status() SaveStatus { return s.StatusField }
func (s *Symlink) Attributes() *Attrs { return &s.AttrsField }
func (s *Symlink) EA() *EASet         { return s.EAField }
func (s *Symlink) FSA() *FSASet       { return s.FSAField }

// Device is a block- or character-special device inode.
type Device struct {
	NameField   string
	AttrsField  Attrs
	StatusField SaveStatus
	EAField     *EASet
	FSAField    *FSASet
	KindField   InodeKind // KindBlockDevice or KindCharDevice
	Major, Minor uint32
}

func (d *Device) Tag() EntryTag      { return inodeTag(d.KindField, d.StatusField) }
func (d *Device) Name() string       { return d.NameField }
func (d *Device) Kind() InodeKind    { return d.KindField }
func (d *Device) Status() SaveStatus { return d.StatusField }
func (d *Device) Attributes() *Attrs { return &d.AttrsField }
func (d *Device) EA() *EASet         { return d.EAField }
func (d *Device) FSA() *FSASet       { return d.FSAField }

// Special is a named pipe, unix socket, or door inode — the remaining
// kinds that carry no payload beyond common inode attributes.
type Special struct {
	NameField   string
	AttrsField  Attrs
	StatusField SaveStatus
	EAField     *EASet
	FSAField    *FSASet
	KindField   InodeKind // KindNamedPipe, KindUnixSocket, or KindDoor
}

func (s *Special) Tag() EntryTag      { return inodeTag(s.KindField, s.StatusField) }
func (s *Special) Name() string       { return s.NameField }
func (s *Special) Kind() InodeKind    { return s.KindField }
func (s *Special) Status() SaveStatus { return s.StatusField }
func (s *Special) Attributes() *Attrs { return &s.AttrsField }
func (s *Special) EA() *EASet         { return s.EAField }
func (s *Special) FSA() *FSASet       { return s.FSAField }
