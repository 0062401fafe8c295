package catalogue

// NewDirectory builds a root or child directory entry.
func NewDirectory(name string, attrs Attrs, status SaveStatus, parent *Directory) *Directory {
	return &Directory{NameField: name, AttrsField: attrs, StatusField: status, Parent: parent}
}

// AddChild appends e to d's children and invalidates d's cached recursive
// statistics and those of every ancestor (spec §3: directories "cache
// their own recursive size and storage-size", recomputed lazily).
func (d *Directory) AddChild(e Entry) {
	if sub, ok := e.(*Directory); ok && sub.Parent == nil {
		sub.Parent = d
	}
	d.Children = append(d.Children, e)
	d.invalidate()
}

// RemoveChild removes the child named name, if present.
func (d *Directory) RemoveChild(name string) bool {
	for i, c := range d.Children {
		if c.Name() == name {
			d.Children = append(d.Children[:i], d.Children[i+1:]...)
			d.invalidate()
			return true
		}
	}
	return false
}

// Find returns the direct child named name, or nil.
func (d *Directory) Find(name string) Entry {
	for _, c := range d.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (d *Directory) invalidate() {
	for cur := d; cur != nil; cur = cur.Parent {
		cur.cacheValid = false
		cur.recursiveHasChanged = true
	}
}

// RecursiveHasChanged reports whether any descendant was added or removed
// since the last cache computation (spec §3: "recursive_has_changed flag
// short-circuits re-walks of untouched subtrees during backup").
func (d *Directory) RecursiveHasChanged() bool { return d.recursiveHasChanged }

// ClearRecursiveHasChanged resets the change flag after a caller has acted
// on it (e.g. after re-deriving statistics for a comparison pass).
func (d *Directory) ClearRecursiveHasChanged() { d.recursiveHasChanged = false }

// RecursiveSize returns the total decompressed byte size of every file
// under d, computing and caching it on first call (or after invalidation).
func (d *Directory) RecursiveSize() int64 {
	d.ensureCache()
	return d.recursiveSize
}

// RecursiveStorageSize returns the total on-disk (possibly compressed)
// byte size of every file under d, cached the same way as RecursiveSize.
func (d *Directory) RecursiveStorageSize() int64 {
	d.ensureCache()
	return d.recursiveStorageSize
}

func (d *Directory) ensureCache() {
	if d.cacheValid {
		return
	}
	var size, storage int64
	for _, c := range d.Children {
		switch v := c.(type) {
		case *File:
			size += v.Size
			if v.StorageSize > 0 {
				storage += v.StorageSize
			} else {
				storage += v.Size
			}
		case *Directory:
			size += v.RecursiveSize()
			storage += v.RecursiveStorageSize()
		case *Etoile:
			if f, ok := v.Inode.(*File); ok {
				size += f.Size
				if f.StorageSize > 0 {
					storage += f.StorageSize
				} else {
					storage += f.Size
				}
			}
		}
	}
	d.recursiveSize = size
	d.recursiveStorageSize = storage
	d.cacheValid = true
}

// Walk invokes visit for every entry in d's subtree in pre-order, emitting
// an Eod{} immediately after each directory's children (mirroring how a
// cursor linearizes the tree for serialization, see cursor.go).
func (d *Directory) Walk(visit func(path []string, e Entry)) {
	d.walk(nil, visit)
}

func (d *Directory) walk(path []string, visit func(path []string, e Entry)) {
	visit(path, d)
	for _, c := range d.Children {
		if sub, ok := c.(*Directory); ok {
			sub.walk(append(append([]string{}, path...), sub.NameField), visit)
			continue
		}
		visit(append(append([]string{}, path...), c.Name()), c)
	}
	visit(path, Eod{})
}
