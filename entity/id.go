// Package entity defines entity identity, the type and connection registry,
// and the data contract every stored entity implements.
package entity

import "fmt"

// TypeID is the interned id of an entity type. Ids are dense and start at 0.
type TypeID int32

// EntityID packs an arena slot and a type id into one value. It is an opaque
// key: only storage internals split it into parts.
type EntityID uint64

// NewEntityID builds an id from a slot and a type.
func NewEntityID(slot int, typ TypeID) EntityID {
	return EntityID(uint64(uint32(slot))<<32 | uint64(uint32(typ)))
}

// Slot returns the arena index of the entity inside its type family.
func (id EntityID) Slot() int {
	return int(uint32(id >> 32))
}

// Type returns the interned type of the entity.
func (id EntityID) Type() TypeID {
	return TypeID(int32(uint32(id)))
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d:%d", id.Type(), id.Slot())
}
