package index

import (
	"fmt"
	"iter"
	"slices"

	"github.com/teranos/entitystore/entity"
)

// MappingKey names an external mapping and fixes its value type.
type MappingKey[T any] struct {
	name string
}

// NewMappingKey returns the key of the mapping called name.
func NewMappingKey[T any](name string) MappingKey[T] {
	return MappingKey[T]{name: name}
}

// Name returns the mapping name.
func (k MappingKey[T]) Name() string { return k.name }

// externalStore is the type-erased form of a mapping.
type externalStore interface {
	has(id entity.EntityID) bool
	remove(id entity.EntityID)
	ids() []entity.EntityID
	clone() externalStore
	empty() externalStore
	// transfer copies the value of from into dst under to.
	transfer(dst externalStore, from, to entity.EntityID)
}

// Mapping associates entities with values of an outside system.
type Mapping[T any] struct {
	values *shardMap[entity.EntityID, T]
}

func (m *Mapping[T]) has(id entity.EntityID) bool {
	return m.values.has(id)
}

func (m *Mapping[T]) remove(id entity.EntityID) { m.values.delete(id) }

func (m *Mapping[T]) ids() []entity.EntityID {
	return slices.Sorted(m.values.keys())
}

func (m *Mapping[T]) clone() externalStore {
	return &Mapping[T]{values: m.values.clone(nextGeneration())}
}

func (m *Mapping[T]) empty() externalStore {
	return &Mapping[T]{values: newShardMap[entity.EntityID, T](nextGeneration())}
}

func (m *Mapping[T]) transfer(dst externalStore, from, to entity.EntityID) {
	v, ok := m.values.get(from)
	if !ok {
		return
	}
	dst.(*Mapping[T]).values.set(to, v)
}

// Get returns the value mapped to id.
func (m *Mapping[T]) Get(id entity.EntityID) (T, bool) {
	if m == nil {
		var zero T
		return zero, false
	}
	return m.values.get(id)
}

// Len returns the number of mapped entities.
func (m *Mapping[T]) Len() int {
	if m == nil {
		return 0
	}
	return m.values.len()
}

// All iterates over mapped entities in ascending id order.
func (m *Mapping[T]) All() iter.Seq2[entity.EntityID, T] {
	return func(yield func(entity.EntityID, T) bool) {
		if m == nil {
			return
		}
		for _, id := range m.ids() {
			v, _ := m.values.get(id)
			if !yield(id, v) {
				return
			}
		}
	}
}

// ExternalMapping returns the mapping of key, nil when it has no entries.
func ExternalMapping[T any](r Reader, key MappingKey[T]) *Mapping[T] {
	store := r.mapping(key.name)
	if store == nil {
		return nil
	}
	return typed[T](key.name, store)
}

// MutableMapping writes through to the mapping of a MutableIndexes. A handle
// stays valid across freezes.
type MutableMapping[T any] struct {
	idx  *MutableIndexes
	name string
}

// MutableExternalMapping returns a writable handle on the mapping of key.
func MutableExternalMapping[T any](m *MutableIndexes, key MappingKey[T]) MutableMapping[T] {
	return MutableMapping[T]{idx: m, name: key.name}
}

// Get returns the value mapped to id.
func (mm MutableMapping[T]) Get(id entity.EntityID) (T, bool) {
	return ExternalMapping(mm.idx, NewMappingKey[T](mm.name)).Get(id)
}

// Len returns the number of mapped entities.
func (mm MutableMapping[T]) Len() int {
	return ExternalMapping(mm.idx, NewMappingKey[T](mm.name)).Len()
}

// All iterates over mapped entities in ascending id order.
func (mm MutableMapping[T]) All() iter.Seq2[entity.EntityID, T] {
	return ExternalMapping(mm.idx, NewMappingKey[T](mm.name)).All()
}

// Set maps id to v.
func (mm MutableMapping[T]) Set(id entity.EntityID, v T) {
	store := mm.idx.writableExternal(mm.name, &Mapping[T]{})
	typed[T](mm.name, store).values.set(id, v)
}

// Remove drops the value of id.
func (mm MutableMapping[T]) Remove(id entity.EntityID) {
	store := mm.idx.mapping(mm.name)
	if store == nil || !store.has(id) {
		return
	}
	mm.idx.writableExternal(mm.name, nil).remove(id)
}

// CopyMappings copies the external mapping values of every id in remap from
// src into m, under the remapped id. Mappings missing in m are created.
func (m *MutableIndexes) CopyMappings(src Reader, remap map[entity.EntityID]entity.EntityID) {
	for _, name := range src.MappingNames() {
		from := src.mapping(name)
		var dst externalStore
		for _, id := range from.ids() {
			to, ok := remap[id]
			if !ok {
				continue
			}
			if dst == nil {
				dst = m.writableExternal(name, from)
			}
			from.transfer(dst, id, to)
		}
	}
}

func typed[T any](name string, store externalStore) *Mapping[T] {
	mp, ok := store.(*Mapping[T])
	if !ok {
		panic(fmt.Sprintf("index: external mapping %q holds %T", name, store))
	}
	return mp
}
