// Package index holds the secondary indexes of a storage: symbolic ids,
// entity sources, soft links, external mappings and the virtual file index.
//
// Indexes is frozen and shared by snapshots. MutableIndexes copies each index
// the first time a builder writes to it after a freeze.
package index

import (
	"iter"
	"maps"
	"slices"

	"github.com/teranos/entitystore/entity"
)

// Reader is the read side shared by Indexes and MutableIndexes.
type Reader interface {
	// Resolve returns the entity holding sym.
	Resolve(sym entity.SymbolicID) (entity.EntityID, bool)
	SymbolicID(id entity.EntityID) (entity.SymbolicID, bool)
	// SymbolicIDs iterates over the symbolic id index.
	SymbolicIDs() iter.Seq2[entity.SymbolicID, entity.EntityID]
	Source(id entity.EntityID) (entity.Source, bool)
	// EntitiesBySource returns the entities of src in ascending id order.
	EntitiesBySource(src entity.Source) []entity.EntityID
	// Sources lists every indexed source.
	Sources() []entity.Source
	SoftLinks(id entity.EntityID) []entity.SymbolicID
	// Referrers returns the entities whose soft links contain sym.
	Referrers(sym entity.SymbolicID) []entity.EntityID
	// SoftLinkHolders lists the entities with at least one soft link.
	SoftLinkHolders() []entity.EntityID
	// MappingNames lists the external mappings in name order.
	MappingNames() []string
	// MappingIDs lists the entities mapped in the named mapping.
	MappingIDs(name string) []entity.EntityID
	// VirtualFiles returns the virtual file index.
	VirtualFiles() *VirtualFileIndex

	mapping(name string) externalStore
}

type state struct {
	symbolic  *uniqueIndex[entity.SymbolicID]
	sources   *multiIndex[entity.Source]
	softLinks *multiIndex[entity.SymbolicID]
	mappings  map[string]externalStore
	vfi       *VirtualFileIndex
}

func (s *state) Resolve(sym entity.SymbolicID) (entity.EntityID, bool) {
	return s.symbolic.lookup(sym)
}

func (s *state) SymbolicID(id entity.EntityID) (entity.SymbolicID, bool) {
	return s.symbolic.keyOf(id)
}

func (s *state) SymbolicIDs() iter.Seq2[entity.SymbolicID, entity.EntityID] {
	return s.symbolic.byKey.all()
}

func (s *state) Source(id entity.EntityID) (entity.Source, bool) {
	keys, _ := s.sources.byID.get(id)
	if len(keys) == 0 {
		return nil, false
	}
	return keys[0], true
}

func (s *state) EntitiesBySource(src entity.Source) []entity.EntityID {
	return s.sources.ids(src)
}

func (s *state) Sources() []entity.Source {
	out := slices.Collect(s.sources.byKey.keys())
	slices.SortFunc(out, func(a, b entity.Source) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})
	return out
}

func (s *state) SoftLinks(id entity.EntityID) []entity.SymbolicID {
	return s.softLinks.keysOf(id)
}

func (s *state) Referrers(sym entity.SymbolicID) []entity.EntityID {
	return s.softLinks.ids(sym)
}

func (s *state) SoftLinkHolders() []entity.EntityID {
	return slices.Sorted(s.softLinks.byID.keys())
}

func (s *state) MappingNames() []string {
	return slices.Sorted(maps.Keys(s.mappings))
}

func (s *state) MappingIDs(name string) []entity.EntityID {
	store := s.mappings[name]
	if store == nil {
		return nil
	}
	return store.ids()
}

func (s *state) VirtualFiles() *VirtualFileIndex {
	return s.vfi
}

func (s *state) mapping(name string) externalStore {
	return s.mappings[name]
}

// Indexes is the frozen index set of a snapshot.
type Indexes struct {
	state
}

// Empty returns an index set without entries.
func Empty() *Indexes {
	return &Indexes{state{
		symbolic:  newUniqueIndex[entity.SymbolicID](),
		sources:   newMultiIndex[entity.Source](),
		softLinks: newMultiIndex[entity.SymbolicID](),
		mappings:  map[string]externalStore{},
		vfi:       newVirtualFileIndex(),
	}}
}

// Thaw returns a mutable index set sharing every index with ix.
func (ix *Indexes) Thaw() *MutableIndexes {
	m := &MutableIndexes{state: ix.state, ownedExternal: map[string]struct{}{}}
	m.mappings = maps.Clone(ix.mappings)
	return m
}

// MutableIndexes is the index set of a builder. It is not safe for concurrent
// use.
type MutableIndexes struct {
	state
	ownSymbolic   bool
	ownSources    bool
	ownSoftLinks  bool
	ownVFI        bool
	ownedExternal map[string]struct{}
}

// NewMutable returns an empty mutable index set.
func NewMutable() *MutableIndexes {
	return Empty().Thaw()
}

// Index updates the symbolic id, source and soft link entries of id from d.
// It returns the entity that held d's symbolic id before, if it was another
// one.
func (m *MutableIndexes) Index(id entity.EntityID, d entity.Data) (entity.EntityID, bool) {
	m.SetSource(id, d.Source())
	m.SetSoftLinks(id, entity.SoftLinksOf(d))
	return m.SetSymbolicID(id, entity.SymbolicIDOf(d))
}

// SetSymbolicID binds sym to id; a nil sym clears the entry of id. It returns
// the entity that held sym before, if it was another one.
func (m *MutableIndexes) SetSymbolicID(id entity.EntityID, sym entity.SymbolicID) (entity.EntityID, bool) {
	if sym == nil {
		if _, ok := m.symbolic.keyOf(id); !ok {
			return 0, false
		}
		m.writableSymbolic().remove(id)
		return 0, false
	}
	if cur, ok := m.symbolic.keyOf(id); ok && cur == sym {
		return 0, false
	}
	return m.writableSymbolic().set(id, sym)
}

// SetSource records the source of id. A nil source clears it.
func (m *MutableIndexes) SetSource(id entity.EntityID, src entity.Source) {
	cur, ok := m.Source(id)
	if ok && cur == src || !ok && src == nil {
		return
	}
	if src == nil {
		m.writableSources().remove(id)
		return
	}
	m.writableSources().set(id, []entity.Source{src})
}

// SetSoftLinks replaces the soft links of id.
func (m *MutableIndexes) SetSoftLinks(id entity.EntityID, links []entity.SymbolicID) {
	if len(links) == 0 && !m.softLinks.holds(id) {
		return
	}
	m.writableSoftLinks().set(id, links)
}

// RemoveEntity drops every entry of id, external mappings and virtual files
// included.
func (m *MutableIndexes) RemoveEntity(id entity.EntityID) {
	m.SetSymbolicID(id, nil)
	m.SetSource(id, nil)
	m.SetSoftLinks(id, nil)
	for name, store := range m.mappings {
		if store.has(id) {
			m.writableExternal(name, nil).remove(id)
		}
	}
	if m.vfi.has(id) {
		m.writableVFI().removeEntity(id)
	}
}

// Freeze publishes the current state. The mutable set stays usable.
func (m *MutableIndexes) Freeze() *Indexes {
	m.ownSymbolic = false
	m.ownSources = false
	m.ownSoftLinks = false
	m.ownVFI = false
	clear(m.ownedExternal)
	frozen := m.state
	frozen.mappings = maps.Clone(m.mappings)
	return &Indexes{frozen}
}

func (m *MutableIndexes) writableSymbolic() *uniqueIndex[entity.SymbolicID] {
	if !m.ownSymbolic {
		m.symbolic = m.symbolic.clone()
		m.ownSymbolic = true
	}
	return m.symbolic
}

func (m *MutableIndexes) writableSources() *multiIndex[entity.Source] {
	if !m.ownSources {
		m.sources = m.sources.clone()
		m.ownSources = true
	}
	return m.sources
}

func (m *MutableIndexes) writableSoftLinks() *multiIndex[entity.SymbolicID] {
	if !m.ownSoftLinks {
		m.softLinks = m.softLinks.clone()
		m.ownSoftLinks = true
	}
	return m.softLinks
}

func (m *MutableIndexes) writableVFI() *VirtualFileIndex {
	if !m.ownVFI {
		m.vfi = m.vfi.clone()
		m.ownVFI = true
	}
	return m.vfi
}

// writableExternal returns the private copy of the named mapping, creating it
// from proto when it does not exist yet.
func (m *MutableIndexes) writableExternal(name string, proto externalStore) externalStore {
	if _, own := m.ownedExternal[name]; own {
		return m.mappings[name]
	}
	store, ok := m.mappings[name]
	if ok {
		store = store.clone()
	} else {
		store = proto.empty()
	}
	m.mappings[name] = store
	m.ownedExternal[name] = struct{}{}
	return store
}
