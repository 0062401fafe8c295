package catalogue

import "github.com/dargo-project/dargo/internal/direrr"

// frame is one level of cursor.Cursor's explicit traversal stack: the
// directory being walked and the index of the next child to visit.
type frame struct {
	dir *Directory
	idx int
}

// Cursor performs an independent, resumable pre-order walk of a directory
// tree, synthesizing an Eod{} after each directory's last child (spec
// §4.2). Multiple cursors over the same tree never interfere with one
// another because each owns its own traversal stack rather than sharing
// position state stored on the tree nodes — the design notes (§9) call
// this out explicitly: the four traversal roles the engine needs
// (reading during backup, adding new entries, comparing against a
// reference, and reading a single subtree) are four independent Cursor
// values, not four fields baked into every directory node.
type Cursor struct {
	root    *Directory
	stack   []frame
	started bool
	done    bool
}

// NewCursor starts a traversal rooted at root.
func NewCursor(root *Directory) *Cursor {
	return &Cursor{root: root}
}

// Next returns the next entry in pre-order (directories before their
// children, an Eod{} after a directory's last child), or (nil, io.EOF)
// equivalent once the walk is exhausted. It never mutates the tree.
func (c *Cursor) Next() (Entry, error) {
	if c.done {
		return nil, errCursorDone
	}
	if !c.started {
		c.started = true
		c.stack = append(c.stack, frame{dir: c.root, idx: -1})
		return c.root, nil
	}
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.idx++
		if top.idx >= len(top.dir.Children) {
			c.stack = c.stack[:len(c.stack)-1]
			return Eod{}, nil
		}
		child := top.dir.Children[top.idx]
		if sub, ok := child.(*Directory); ok {
			c.stack = append(c.stack, frame{dir: sub, idx: -1})
			return sub, nil
		}
		return child, nil
	}
	c.done = true
	return nil, errCursorDone
}

// errCursorDone signals a cursor has exhausted its tree; callers treat it
// like io.EOF.
var errCursorDone = direrr.Newf(direrr.Range, "catalogue.Cursor.Next", "cursor exhausted")

// CurrentDirectory returns the directory the cursor is presently inside
// (the innermost open frame), or nil before the walk starts.
func (c *Cursor) CurrentDirectory() *Directory {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1].dir
}

// ReadCursor drives the filter pipeline's read of a catalogue being
// backed up against or restored from (spec §4.2).
type ReadCursor struct{ *Cursor }

// NewReadCursor wraps a fresh Cursor for read traversal.
func NewReadCursor(root *Directory) ReadCursor { return ReadCursor{NewCursor(root)} }

// AddCursor tracks where new entries are being inserted while building a
// catalogue during backup (spec §4.2).
type AddCursor struct {
	*Cursor
}

// NewAddCursor wraps a fresh Cursor for incremental construction.
func NewAddCursor(root *Directory) AddCursor { return AddCursor{NewCursor(root)} }

// Add inserts e as a child of the directory the cursor currently sits in.
func (a AddCursor) Add(e Entry) {
	if d := a.CurrentDirectory(); d != nil {
		d.AddChild(e)
	}
}

// CompareCursor walks two trees (the current filesystem state and the
// reference catalogue) in lockstep for the diff/backup comparison pass
// (spec §4.3, §7).
type CompareCursor struct {
	Current   *Cursor
	Reference *Cursor
}

// NewCompareCursor pairs two independent cursors over current and
// reference trees.
func NewCompareCursor(current, reference *Directory) CompareCursor {
	return CompareCursor{Current: NewCursor(current), Reference: NewCursor(reference)}
}

// Next advances both sides one step; either side may legitimately run out
// before the other (entries added or removed), reported via the ok flags.
func (c CompareCursor) Next() (cur Entry, curOK bool, ref Entry, refOK bool) {
	if e, err := c.Current.Next(); err == nil {
		cur, curOK = e, true
	}
	if e, err := c.Reference.Next(); err == nil {
		ref, refOK = e, true
	}
	return
}

// SubReadCursor performs the isolated read of a single subtree, used when
// a filter operation is scoped to an explicit path rather than the whole
// archive (spec §4.2, glossary "sub-read").
type SubReadCursor struct{ *Cursor }

// NewSubReadCursor starts a traversal rooted at subtree rather than at the
// catalogue's true root.
func NewSubReadCursor(subtree *Directory) SubReadCursor { return SubReadCursor{NewCursor(subtree)} }
