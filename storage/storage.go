// Package storage is the in-memory entity graph: immutable snapshots for
// readers and mutable builders for staged transactions, with the add-diff and
// replace-by-source merges and consistency checking.
//
// A Snapshot is frozen and safe for any number of goroutines. A Builder is
// owned by one writer; ToSnapshot publishes its state in time proportional to
// the number of families and connections, and the builder stays usable.
package storage

import (
	"iter"
	"slices"
	"sync"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/family"
	"github.com/teranos/entitystore/storage/index"
	"github.com/teranos/entitystore/storage/refs"
)

// Reader is the read API shared by Snapshot and Builder.
type Reader interface {
	Registry() *entity.Registry
	// Get returns the entity with id, or nil.
	Get(id entity.EntityID) entity.Data
	// IDOf returns the id of a stored entity.
	IDOf(d entity.Data) entity.EntityID
	// Entities iterates over the entities of type t in slot order.
	Entities(t entity.TypeID) iter.Seq[entity.Data]
	// Types lists the types with at least one entity.
	Types() []entity.TypeID
	EntityCount(t entity.TypeID) int
	// Resolve returns the entity holding sym.
	Resolve(sym entity.SymbolicID) (entity.Data, bool)
	Contains(sym entity.SymbolicID) bool
	// Referrers returns the entities of type t whose soft links contain sym.
	Referrers(sym entity.SymbolicID, t entity.TypeID) []entity.EntityID
	// EntitiesBySource returns the entities whose source passes filter, in
	// ascending id order.
	EntitiesBySource(filter func(entity.Source) bool) []entity.EntityID
	Children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID
	Parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool)
	ChildrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID
	ParentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID
	Connections() []*entity.ConnectionID

	barrel() family.BarrelReader
	refTable() refs.Reader
	indexSet() index.Reader
}

// view implements Reader over any barrel, table and index set.
type view struct {
	reg *entity.Registry
	b   family.BarrelReader
	r   refs.Reader
	ix  index.Reader
}

func (v *view) Registry() *entity.Registry { return v.reg }

func (v *view) Get(id entity.EntityID) entity.Data { return v.b.Get(id) }

func (v *view) IDOf(d entity.Data) entity.EntityID {
	return entity.NewEntityID(d.Slot(), v.reg.TypeOf(d))
}

func (v *view) Entities(t entity.TypeID) iter.Seq[entity.Data] { return v.b.Entities(t) }

func (v *view) Types() []entity.TypeID { return v.b.Types() }

func (v *view) EntityCount(t entity.TypeID) int { return v.b.Family(t).Count() }

func (v *view) Resolve(sym entity.SymbolicID) (entity.Data, bool) {
	id, ok := v.ix.Resolve(sym)
	if !ok {
		return nil, false
	}
	d := v.b.Get(id)
	return d, d != nil
}

func (v *view) Contains(sym entity.SymbolicID) bool {
	_, ok := v.ix.Resolve(sym)
	return ok
}

func (v *view) Referrers(sym entity.SymbolicID, t entity.TypeID) []entity.EntityID {
	var out []entity.EntityID
	for _, id := range v.ix.Referrers(sym) {
		if id.Type() == t {
			out = append(out, id)
		}
	}
	return out
}

func (v *view) EntitiesBySource(filter func(entity.Source) bool) []entity.EntityID {
	var out []entity.EntityID
	for _, src := range v.ix.Sources() {
		if filter(src) {
			out = append(out, v.ix.EntitiesBySource(src)...)
		}
	}
	slices.Sort(out)
	return out
}

func (v *view) Children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID {
	return v.r.Children(conn, parent)
}

func (v *view) Parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool) {
	return v.r.Parent(conn, child)
}

func (v *view) ChildrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID {
	return v.r.ChildrenOf(parent)
}

func (v *view) ParentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID {
	return v.r.ParentsOf(child)
}

func (v *view) Connections() []*entity.ConnectionID { return v.r.Connections() }

func (v *view) barrel() family.BarrelReader { return v.b }

func (v *view) refTable() refs.Reader { return v.r }

func (v *view) indexSet() index.Reader { return v.ix }

// Snapshot is an immutable storage state.
type Snapshot struct {
	view
	entities *family.Barrel
	refs     *refs.Table
	indexes  *index.Indexes
	// resolved caches Resolve results, misses included.
	resolved sync.Map // entity.SymbolicID -> entity.Data (nil for a miss)
}

// EmptySnapshot returns a snapshot without entities.
func EmptySnapshot(reg *entity.Registry) *Snapshot {
	return newSnapshot(reg, &family.Barrel{}, refs.Empty(), index.Empty())
}

func newSnapshot(reg *entity.Registry, b *family.Barrel, t *refs.Table, ix *index.Indexes) *Snapshot {
	return &Snapshot{
		view:     view{reg: reg, b: b, r: t, ix: ix},
		entities: b,
		refs:     t,
		indexes:  ix,
	}
}

// Resolve returns the entity holding sym. Results are cached per snapshot.
func (s *Snapshot) Resolve(sym entity.SymbolicID) (entity.Data, bool) {
	if cached, ok := s.resolved.Load(sym); ok {
		d, _ := cached.(entity.Data)
		return d, d != nil
	}
	d, ok := s.view.Resolve(sym)
	if !ok {
		s.resolved.Store(sym, nil)
		return nil, false
	}
	s.resolved.Store(sym, d)
	return d, true
}

// ToBuilder returns a builder starting from s. The snapshot is not affected
// by anything written to the builder.
func (s *Snapshot) ToBuilder(opts ...Option) *Builder {
	return newBuilder(s.reg, s.entities.Thaw(), s.refs.Thaw(), s.indexes.Thaw(), buildOptions(opts))
}

// ExternalMapping returns the external mapping of key in r, nil when empty.
func ExternalMapping[T any](r Reader, key index.MappingKey[T]) *index.Mapping[T] {
	return index.ExternalMapping(r.indexSet(), key)
}

// VirtualFiles returns the virtual file index of r.
func VirtualFiles(r Reader) *index.VirtualFileIndex {
	return r.indexSet().VirtualFiles()
}
