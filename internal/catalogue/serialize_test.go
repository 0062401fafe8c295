package catalogue

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTreeWithHardlink() *Catalogue {
	c := NewCatalogue("archive")
	c.StartAdd()

	attrs := Attrs{UID: 1000, GID: 1000, Permission: 0644, Mtime: time.Unix(1700000000, 0).UTC()}

	shared := &File{NameField: "original.txt", AttrsField: attrs, StatusField: StatusSaved, Size: 42, CRC: []byte{1, 2, 3, 4}}
	star := c.Links.NewEtoile(shared)
	_ = c.Add(star)

	_ = c.Add(&File{NameField: "plain.txt", AttrsField: attrs, StatusField: StatusSaved, Size: 7})

	sub := &Directory{NameField: "sub", AttrsField: attrs, StatusField: StatusSaved}
	_ = c.Add(sub)
	_ = c.Add(c.Links.Link(star, "link.txt"))
	_ = c.Add(Eod{})

	return c
}

// TestCatalogueRoundTripPreservesHardlinkSharing reproduces spec.md §8's
// invariant that a hard-linked inode is serialized once, as an etoile, with
// every other link written as a mirage referencing the same etiquette.
func TestCatalogueRoundTripPreservesHardlinkSharing(t *testing.T) {
	c := buildTreeWithHardlink()

	var buf bytes.Buffer
	require.NoError(t, WriteCatalogue(&buf, c))

	got, err := ReadCatalogue(&buf, "archive")
	require.NoError(t, err)

	assert.Equal(t, "archive", got.DataName)
	require.Len(t, got.Root.Children, 3)

	star, ok := got.Root.Children[0].(*Etoile)
	require.True(t, ok, "first child must round-trip as an Etoile")
	assert.Equal(t, "original.txt", star.Name())
	assert.Equal(t, 2, star.RefCount(), "one etoile plus one mirage")

	plain, ok := got.Root.Children[1].(*File)
	require.True(t, ok)
	assert.Equal(t, "plain.txt", plain.NameField)
	assert.EqualValues(t, 7, plain.Size)

	sub, ok := got.Root.Children[2].(*Directory)
	require.True(t, ok)
	require.Len(t, sub.Children, 1)

	mirage, ok := sub.Children[0].(*Mirage)
	require.True(t, ok, "second link must round-trip as a Mirage")
	assert.Equal(t, "link.txt", mirage.Name())
	assert.Same(t, star, mirage.Star, "mirage must resolve to the same etoile instance recovered from the table")
}

func TestCatalogueRoundTripPreservesFileAttributes(t *testing.T) {
	c := NewCatalogue("archive")
	c.StartAdd()
	mtime := time.Unix(1650000000, 0).UTC()
	require.NoError(t, c.Add(&File{
		NameField:  "data.bin",
		AttrsField: Attrs{UID: 42, GID: 7, Permission: 0600, Mtime: mtime},
		StatusField: StatusSaved,
		Size:        1024,
		StorageSize: 512,
		CRC:         []byte{0xde, 0xad, 0xbe, 0xef},
		Sparse:      true,
		SparseRuns:  []SparseRun{{HoleLength: 100, DataLength: 24}},
	}))

	var buf bytes.Buffer
	require.NoError(t, WriteCatalogue(&buf, c))

	got, err := ReadCatalogue(&buf, "archive")
	require.NoError(t, err)

	f, ok := got.Root.Children[0].(*File)
	require.True(t, ok)
	assert.Equal(t, "data.bin", f.NameField)
	assert.EqualValues(t, 1024, f.Size)
	assert.EqualValues(t, 512, f.StorageSize)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, f.CRC)
	assert.True(t, f.Sparse)
	require.Len(t, f.SparseRuns, 1)
	assert.EqualValues(t, 100, f.SparseRuns[0].HoleLength)
	assert.EqualValues(t, 24, f.SparseRuns[0].DataLength)
	assert.Equal(t, uint32(42), f.AttrsField.UID)
	assert.Equal(t, mtime, f.AttrsField.Mtime)
}
