package digest

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/entitystore/entity"
)

type doc struct {
	entity.Base
	kind string
	Text string
}

func (d *doc) EntityType() string { return d.kind }

func (d *doc) Clone() entity.Data {
	c := *d
	return &c
}

func (d *doc) Equal(o entity.Data) bool { return false }

func (d *doc) EqualIgnoringSource(o entity.Data) bool { return false }

func (d *doc) HashContent(w io.Writer) { _, _ = io.WriteString(w, d.Text) }

func hash(s string) Hash {
	return StringHash("test", s)
}

func TestContentHash_IgnoresSlotAndSource(t *testing.T) {
	a := &doc{Base: entity.NewBase(entity.SourceName("one")), kind: "doc", Text: "x"}
	b := &doc{Base: entity.NewBase(entity.SourceName("two")), kind: "doc", Text: "x"}
	b.SetSlot(12)
	assert.Equal(t, ContentHash(a), ContentHash(b))

	other := &doc{kind: "note", Text: "x"}
	assert.NotEqual(t, ContentHash(a), ContentHash(other))
}

func TestTree_EmptyRoot(t *testing.T) {
	assert.Equal(t, Hash{}, NewTree().Root())
}

func TestTree_DeterministicRoot(t *testing.T) {
	// Same leaves inserted in a different order give the same root.
	a := NewTree()
	b := NewTree()
	k1 := GroupKey{"module", "src-1"}
	k2 := GroupKey{"library", "src-2"}

	a.Insert(k1, hash("1"))
	a.Insert(k1, hash("2"))
	a.Insert(k2, hash("3"))

	b.Insert(k2, hash("3"))
	b.Insert(k1, hash("2"))
	b.Insert(k1, hash("1"))

	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, []GroupKey{k2, k1}, a.Groups())
}

func TestTree_LeavesAreAMultiset(t *testing.T) {
	once := NewTree()
	twice := NewTree()
	key := GroupKey{"module", "src"}
	once.Insert(key, hash("x"))
	twice.Insert(key, hash("x"))
	twice.Insert(key, hash("x"))

	assert.NotEqual(t, once.Root(), twice.Root())
	assert.Equal(t, 2, twice.Size())

	twice.Remove(key, hash("x"))
	assert.Equal(t, once.Root(), twice.Root())
}

func TestTree_RemoveRestoresRoot(t *testing.T) {
	tree := NewTree()
	empty := tree.Root()
	key := GroupKey{"module", "src"}

	tree.Insert(key, hash("x"))
	require.NotEqual(t, empty, tree.Root())
	tree.Remove(key, hash("x"))
	tree.Remove(key, hash("missing"))
	tree.Remove(GroupKey{"none", ""}, hash("x"))

	assert.Equal(t, empty, tree.Root())
	assert.Equal(t, 0, tree.GroupCount())
}

func TestTree_GroupKeyAffectsHash(t *testing.T) {
	a := NewTree()
	b := NewTree()
	a.Insert(GroupKey{"module", "a"}, hash("x"))
	b.Insert(GroupKey{"module", "b"}, hash("x"))
	assert.NotEqual(t, a.Root(), b.Root())
}

func TestTree_Diff(t *testing.T) {
	local := NewTree()
	other := NewTree()
	shared := GroupKey{"module", "shared"}
	onlyLocal := GroupKey{"module", "local"}
	onlyOther := GroupKey{"module", "other"}

	local.Insert(shared, hash("1"))
	other.Insert(shared, hash("2"))
	local.Insert(onlyLocal, hash("3"))
	other.Insert(onlyOther, hash("4"))

	localOnly, otherOnly, divergent := local.Diff(other.GroupHashes())
	require.Len(t, localOnly, 1)
	require.Len(t, otherOnly, 1)
	require.Len(t, divergent, 1)

	key, ok := local.GroupOf(localOnly[0])
	require.True(t, ok)
	assert.Equal(t, onlyLocal, key)
	key, ok = other.GroupOf(otherOnly[0])
	require.True(t, ok)
	assert.Equal(t, onlyOther, key)
	key, _ = local.GroupOf(divergent[0])
	assert.Equal(t, shared, key)
}

func TestHexHash(t *testing.T) {
	assert.Len(t, HexHash(hash("x")), 64)
}
