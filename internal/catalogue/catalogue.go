package catalogue

import "github.com/dargo-project/dargo/internal/direrr"

// Catalogue is the in-memory inventory of one archive: a directory tree,
// the hard-link table shared across it, and the aggregate statistics the
// filter layer reports at the end of an operation (spec §3, §4.2).
type Catalogue struct {
	Root     *Directory
	Links    *HardlinkTable
	DataName string // labels which archive (and, for an isolated catalogue, which data slice set) this describes

	read ReadCursor
	add  AddCursor
}

// NewCatalogue creates an empty catalogue rooted at "/" for archive
// dataName.
func NewCatalogue(dataName string) *Catalogue {
	root := NewDirectory("", Attrs{}, StatusSaved, nil)
	return &Catalogue{Root: root, Links: NewHardlinkTable(), DataName: dataName}
}

// StartRead (re)starts the catalogue's read cursor from the root, for a
// fresh top-to-bottom pass (e.g. a restore or diff run).
func (c *Catalogue) StartRead() {
	c.read = NewReadCursor(c.Root)
}

// Read advances the read cursor and returns the next entry, mirroring the
// linearized pre-order stream backup/restore consume (spec §4.2).
func (c *Catalogue) Read() (Entry, error) {
	if c.read.Cursor == nil {
		c.StartRead()
	}
	return c.read.Next()
}

// SkipReadToParentDir discards entries from the read cursor until it has
// left the directory it is currently inside, i.e. until (and including)
// that directory's Eod. Used when a filter decides to skip an entire
// subtree (an excluded directory, or one already known unchanged) without
// visiting every descendant individually (spec glossary
// "skip_read_to_parent_dir").
func (c *Catalogue) SkipReadToParentDir() error {
	if c.read.Cursor == nil {
		return direrr.Newf(direrr.Bug, "catalogue.Catalogue.SkipReadToParentDir", "read cursor not started")
	}
	target := c.read.CurrentDirectory()
	for {
		e, err := c.read.Next()
		if err != nil {
			return err
		}
		if _, isEod := e.(Eod); isEod && c.read.CurrentDirectory() != target {
			return nil
		}
		if _, isEod := e.(Eod); isEod && c.read.CurrentDirectory() == nil {
			return nil
		}
	}
}

// StartAdd (re)starts the add cursor positioned inside the root
// directory, for building a catalogue incrementally while walking a
// filesystem.
func (c *Catalogue) StartAdd() {
	c.add = AddCursor{&Cursor{root: c.Root, stack: []frame{{dir: c.Root, idx: -1}}, started: true}}
}

// Add inserts e as a child of the directory the add cursor is currently
// positioned in; if e is a *Directory the cursor descends into it for
// subsequent adds, and an Eod{} pops back to the parent (spec §4.2).
func (c *Catalogue) Add(e Entry) error {
	if c.add.Cursor == nil {
		c.StartAdd()
	}
	switch v := e.(type) {
	case Eod:
		if len(c.add.stack) <= 1 {
			return direrr.Newf(direrr.Bug, "catalogue.Catalogue.Add", "eod at catalogue root")
		}
		c.add.stack = c.add.stack[:len(c.add.stack)-1]
		return nil
	case *Directory:
		c.add.Add(v)
		c.add.stack = append(c.add.stack, frame{dir: v, idx: -1})
		return nil
	default:
		c.add.Add(e)
		return nil
	}
}

// Compare pairs this catalogue's tree against other's for a lockstep
// traversal (the backup/diff comparison pass, spec §4.3, §7).
func (c *Catalogue) Compare(other *Catalogue) CompareCursor {
	return NewCompareCursor(c.Root, other.Root)
}

// UpdateDestroyedWith walks reference and, for every inode present there
// but absent from c, appends a Detruit tombstone to the corresponding
// directory in c. This is how a differential backup's catalogue records
// deletions so a restore can remove files that no longer exist in the
// source (spec §3, glossary "detruit").
func (c *Catalogue) UpdateDestroyedWith(reference *Catalogue) {
	updateDestroyed(c.Root, reference.Root)
}

func updateDestroyed(dst, ref *Directory) {
	for _, re := range ref.Children {
		if dst.Find(re.Name()) != nil {
			if rd, ok := re.(*Directory); ok {
				if dd, ok := dst.Find(re.Name()).(*Directory); ok {
					updateDestroyed(dd, rd)
				}
			}
			continue
		}
		kind := KindFile
		if inode, ok := re.(Inode); ok {
			kind = inode.Kind()
		}
		dst.AddChild(Detruit{NameField: re.Name(), Kind: kind})
	}
}

// UpdateAbsentWith walks reference and, for every entry present there but
// missing from c, splices it into c as-is — used after an interrupted
// backup to bring forward whatever the previous attempt's catalogue
// already recorded for paths this run never got to (spec §4.2
// "update_absent_with(reference, next_etiquette)"). Any hard-linked
// etoile/mirage pairs copied across are renumbered starting at
// nextEtiquette, since reference's etiquette space was assigned
// independently of c's own and may otherwise collide; returns the next
// unused etiquette after the splice, for a caller chaining multiple such
// calls.
func (c *Catalogue) UpdateAbsentWith(reference *Catalogue, nextEtiquette uint64) uint64 {
	remap := make(map[uint64]*Etoile)
	next := nextEtiquette
	updateAbsent(c.Root, reference.Root, c, remap, &next)
	return next
}

func updateAbsent(dst, ref *Directory, cat *Catalogue, remap map[uint64]*Etoile, next *uint64) {
	for _, re := range ref.Children {
		existing := dst.Find(re.Name())
		if existing == nil {
			dst.AddChild(remapAbsentEntry(re, cat, remap, next))
			continue
		}
		if rd, ok := re.(*Directory); ok {
			if dd, ok := existing.(*Directory); ok {
				updateAbsent(dd, rd, cat, remap, next)
			}
		}
	}
}

// remapAbsentEntry deep-copies e (recursing into directories) so that every
// etoile it introduces is registered under a fresh etiquette in cat.Links
// and every mirage referencing an etoile already remapped in this pass
// points at its new copy, preserving the sharing relationship under the
// renumbered etiquette space.
func remapAbsentEntry(e Entry, cat *Catalogue, remap map[uint64]*Etoile, next *uint64) Entry {
	switch v := e.(type) {
	case *Etoile:
		star, ok := remap[v.Etiquette]
		if !ok {
			star = cat.Links.RegisterEtoile(v.Inode, *next)
			remap[v.Etiquette] = star
			*next++
		}
		return star
	case *Mirage:
		star, ok := remap[v.Star.Etiquette]
		if !ok {
			star = cat.Links.RegisterEtoile(v.Star.Inode, *next)
			remap[v.Star.Etiquette] = star
			*next++
		}
		return cat.Links.Link(star, v.NameField)
	case *Directory:
		dir := NewDirectory(v.NameField, v.AttrsField, v.StatusField, nil)
		for _, child := range v.Children {
			dir.AddChild(remapAbsentEntry(child, cat, remap, next))
		}
		return dir
	default:
		return e
	}
}
