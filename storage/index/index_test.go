package index

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/entitystore/entity"
)

type linked struct {
	entity.Base
	Name  string
	Links []entity.SymbolicID
}

func (l *linked) EntityType() string { return "linked" }

func (l *linked) SymbolicID() entity.SymbolicID { return entity.NameID{Type: "linked", Name: l.Name} }

func (l *linked) SoftLinks() []entity.SymbolicID { return l.Links }

func (l *linked) UpdateLink(old, updated entity.SymbolicID) bool { return false }

func (l *linked) Clone() entity.Data {
	c := *l
	return &c
}

func (l *linked) Equal(o entity.Data) bool { return false }

func (l *linked) EqualIgnoringSource(o entity.Data) bool { return false }

func (l *linked) HashContent(w io.Writer) { _, _ = io.WriteString(w, l.Name) }

func sym(name string) entity.SymbolicID { return entity.NameID{Type: "linked", Name: name} }

var (
	src  = entity.SourceName("src")
	id1  = entity.NewEntityID(1, 0)
	id2  = entity.NewEntityID(2, 0)
	url1 = "file:///a"
	url2 = "file:///b"
)

func newLinked(name string, links ...string) *linked {
	l := &linked{Base: entity.NewBase(src), Name: name}
	for _, n := range links {
		l.Links = append(l.Links, sym(n))
	}
	return l
}

func TestIndex_FromData(t *testing.T) {
	m := NewMutable()
	_, evicted := m.Index(id1, newLinked("a", "b", "c"))
	assert.False(t, evicted)

	got, ok := m.Resolve(sym("a"))
	require.True(t, ok)
	assert.Equal(t, id1, got)
	s, ok := m.Source(id1)
	require.True(t, ok)
	assert.Equal(t, src, s)
	assert.Equal(t, []entity.EntityID{id1}, m.EntitiesBySource(src))
	assert.Equal(t, []entity.EntityID{id1}, m.Referrers(sym("c")))
	assert.Equal(t, []entity.SymbolicID{sym("b"), sym("c")}, m.SoftLinks(id1))
	assert.Equal(t, []entity.Source{src}, m.Sources())
}

func TestSetSymbolicID_ReportsPreviousHolder(t *testing.T) {
	m := NewMutable()
	m.SetSymbolicID(id1, sym("a"))
	prev, evicted := m.SetSymbolicID(id2, sym("a"))
	require.True(t, evicted)
	assert.Equal(t, id1, prev)
	_, ok := m.SymbolicID(id1)
	assert.False(t, ok)

	_, evicted = m.SetSymbolicID(id2, sym("a"))
	assert.False(t, evicted)
}

func TestRemoveEntity_ClearsEverything(t *testing.T) {
	m := NewMutable()
	key := NewMappingKey[string]("ext")
	m.Index(id1, newLinked("a", "b"))
	MutableExternalMapping(m, key).Set(id1, "x")
	m.MutableVirtualFiles().Index(id1, "root", url1)

	m.RemoveEntity(id1)
	_, ok := m.Resolve(sym("a"))
	assert.False(t, ok)
	assert.Empty(t, m.EntitiesBySource(src))
	assert.Empty(t, m.Referrers(sym("b")))
	assert.Equal(t, 0, ExternalMapping(m, key).Len())
	assert.Empty(t, m.VirtualFiles().Find(url1))
}

func TestFreeze_IsolatesIndexes(t *testing.T) {
	m := NewMutable()
	key := NewMappingKey[int]("ext")
	handle := MutableExternalMapping(m, key)
	m.Index(id1, newLinked("a"))
	handle.Set(id1, 1)
	m.MutableVirtualFiles().Index(id1, "root", url1)
	frozen := m.Freeze()

	m.SetSymbolicID(id1, sym("renamed"))
	m.SetSource(id1, entity.SourceName("other"))
	handle.Set(id1, 2)
	m.MutableVirtualFiles().Index(id1, "root", url2)

	got, ok := frozen.Resolve(sym("a"))
	require.True(t, ok)
	assert.Equal(t, id1, got)
	assert.Equal(t, []entity.EntityID{id1}, frozen.EntitiesBySource(src))
	v, _ := ExternalMapping(frozen, key).Get(id1)
	assert.Equal(t, 1, v)
	v, _ = handle.Get(id1)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{url1}, frozen.VirtualFiles().URLs(id1, "root"))
	assert.Equal(t, []entity.EntityID{id1}, m.VirtualFiles().Find(url2))
	assert.Empty(t, m.VirtualFiles().Find(url1))

	thawed := frozen.Thaw()
	thawed.RemoveEntity(id1)
	assert.Equal(t, 1, ExternalMapping(frozen, key).Len())
}

func TestUnchangedWritesDoNotCopy(t *testing.T) {
	m := NewMutable()
	m.Index(id1, newLinked("a"))
	frozen := m.Freeze()

	m.Index(id1, newLinked("a"))
	assert.Same(t, frozen.symbolic, m.symbolic)
	assert.Same(t, frozen.sources, m.sources)
	assert.Same(t, frozen.softLinks, m.softLinks)
}

func TestMappingTypeMismatchPanics(t *testing.T) {
	m := NewMutable()
	MutableExternalMapping(m, NewMappingKey[int]("ext")).Set(id1, 1)
	assert.Panics(t, func() { ExternalMapping(m, NewMappingKey[string]("ext")) })
}

func TestCopyMappingsAndVirtualFiles(t *testing.T) {
	from := NewMutable()
	key := NewMappingKey[string]("ext")
	MutableExternalMapping(from, key).Set(id1, "one")
	MutableExternalMapping(from, key).Set(id2, "two")
	from.MutableVirtualFiles().Index(id1, "root", url1, url2)

	target := NewMutable()
	moved := entity.NewEntityID(9, 0)
	remap := map[entity.EntityID]entity.EntityID{id1: moved}
	target.CopyMappings(from, remap)
	target.CopyVirtualFiles(from, remap)

	mapping := ExternalMapping(target, key)
	assert.Equal(t, 1, mapping.Len())
	v, ok := mapping.Get(moved)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	assert.Equal(t, []string{url1, url2}, target.VirtualFiles().URLs(moved, "root"))
	assert.Equal(t, []entity.EntityID{moved}, target.VirtualFiles().Find(url2))
	assert.Equal(t, []string{"ext"}, target.MappingNames())
}

func TestVirtualFiles_EmptyListRemovesProperty(t *testing.T) {
	m := NewMutable()
	vf := m.MutableVirtualFiles()
	vf.Index(id1, "a", url1)
	vf.Index(id1, "b", url1)
	vf.Index(id1, "a")
	assert.Equal(t, []string{"b"}, m.VirtualFiles().Properties(id1))
	assert.Equal(t, []entity.EntityID{id1}, vf.Find(url1))
	vf.RemoveEntity(id1)
	assert.Empty(t, m.VirtualFiles().Entities())
}
