package index

import (
	"slices"

	"github.com/teranos/entitystore/entity"
)

// uniqueIndex maps each key to one entity and each entity to one key.
type uniqueIndex[K comparable] struct {
	byKey *shardMap[K, entity.EntityID]
	byID  *shardMap[entity.EntityID, K]
}

func newUniqueIndex[K comparable]() *uniqueIndex[K] {
	gen := nextGeneration()
	return &uniqueIndex[K]{
		byKey: newShardMap[K, entity.EntityID](gen),
		byID:  newShardMap[entity.EntityID, K](gen),
	}
}

func (u *uniqueIndex[K]) clone() *uniqueIndex[K] {
	gen := nextGeneration()
	return &uniqueIndex[K]{byKey: u.byKey.clone(gen), byID: u.byID.clone(gen)}
}

func (u *uniqueIndex[K]) lookup(key K) (entity.EntityID, bool) {
	return u.byKey.get(key)
}

func (u *uniqueIndex[K]) keyOf(id entity.EntityID) (K, bool) {
	return u.byID.get(id)
}

// set binds key to id and returns the entity that held key before, if any.
func (u *uniqueIndex[K]) set(id entity.EntityID, key K) (entity.EntityID, bool) {
	u.remove(id)
	prev, had := u.byKey.get(key)
	if had && prev != id {
		u.byID.delete(prev)
	}
	u.byKey.set(key, id)
	u.byID.set(id, key)
	return prev, had && prev != id
}

func (u *uniqueIndex[K]) remove(id entity.EntityID) {
	k, ok := u.byID.get(id)
	if !ok {
		return
	}
	u.byID.delete(id)
	if cur, _ := u.byKey.get(k); cur == id {
		u.byKey.delete(k)
	}
}

type idSet = shardMap[entity.EntityID, struct{}]

// multiIndex maps each entity to a list of keys and each key to the set of
// entities holding it. A key set is copied into the current generation before
// it is written.
type multiIndex[K comparable] struct {
	byKey *shardMap[K, *idSet]
	byID  *shardMap[entity.EntityID, []K]
	gen   uint64
}

func newMultiIndex[K comparable]() *multiIndex[K] {
	gen := nextGeneration()
	return &multiIndex[K]{
		byKey: newShardMap[K, *idSet](gen),
		byID:  newShardMap[entity.EntityID, []K](gen),
		gen:   gen,
	}
}

func (m *multiIndex[K]) clone() *multiIndex[K] {
	gen := nextGeneration()
	return &multiIndex[K]{byKey: m.byKey.clone(gen), byID: m.byID.clone(gen), gen: gen}
}

func (m *multiIndex[K]) keysOf(id entity.EntityID) []K {
	keys, _ := m.byID.get(id)
	return slices.Clone(keys)
}

func (m *multiIndex[K]) holds(id entity.EntityID) bool {
	keys, _ := m.byID.get(id)
	return len(keys) > 0
}

// ids returns the entities holding key in ascending order.
func (m *multiIndex[K]) ids(key K) []entity.EntityID {
	set, ok := m.byKey.get(key)
	if !ok || set.len() == 0 {
		return nil
	}
	return slices.Sorted(set.keys())
}

// writableSet returns the set of key owned by this generation, creating it
// when missing.
func (m *multiIndex[K]) writableSet(key K) *idSet {
	set, ok := m.byKey.get(key)
	switch {
	case !ok:
		set = newShardMap[entity.EntityID, struct{}](m.gen)
		m.byKey.set(key, set)
	case set.gen != m.gen:
		set = set.clone(m.gen)
		m.byKey.set(key, set)
	}
	return set
}

func (m *multiIndex[K]) set(id entity.EntityID, keys []K) {
	m.remove(id)
	if len(keys) == 0 {
		return
	}
	var stored []K
	for _, k := range keys {
		if cur, ok := m.byKey.get(k); ok && cur.has(id) {
			continue
		}
		m.writableSet(k).set(id, struct{}{})
		stored = append(stored, k)
	}
	m.byID.set(id, stored)
}

func (m *multiIndex[K]) remove(id entity.EntityID) {
	keys, ok := m.byID.get(id)
	if !ok {
		return
	}
	for _, k := range keys {
		set := m.writableSet(k)
		set.delete(id)
		if set.len() == 0 {
			m.byKey.delete(k)
		}
	}
	m.byID.delete(id)
}
