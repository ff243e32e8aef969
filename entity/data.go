package entity

import (
	"fmt"
	"io"
)

// Source tags the provider that produced an entity. Implementations must be
// comparable: sources are used as map keys.
type Source interface {
	fmt.Stringer
}

// SymbolicID is a business key that is unique across a storage.
// Implementations must be comparable.
type SymbolicID interface {
	fmt.Stringer
}

// SourceName is the plain string source used by fixtures and tests.
type SourceName string

func (s SourceName) String() string { return string(s) }

// PlaceholderSource marks entities created only to hold a place for a real
// entity that another provider will supply. Replace-by-source never lets a
// placeholder override a real entity.
type PlaceholderSource interface {
	Source
	Placeholder() bool
}

// PlaceholderName is a SourceName whose entities are placeholders.
type PlaceholderName string

func (s PlaceholderName) String() string { return string(s) }

// Placeholder always reports true.
func (s PlaceholderName) Placeholder() bool { return true }

// IsPlaceholder reports whether src marks placeholder entities.
func IsPlaceholder(src Source) bool {
	p, ok := src.(PlaceholderSource)
	return ok && p.Placeholder()
}

// NameID is a symbolic id made of the entity type name and a name.
type NameID struct {
	Type string
	Name string
}

func (n NameID) String() string { return n.Type + ":" + n.Name }

// Data is the contract stored entities implement. Slot and source are
// bookkeeping owned by the storage; everything else is content.
type Data interface {
	// EntityType names the entity type; the registry interns it.
	EntityType() string
	Slot() int
	SetSlot(slot int)
	Source() Source
	SetSource(src Source)
	// Clone returns a deep copy the caller may modify.
	Clone() Data
	// Equal compares content and source, never the slot.
	Equal(other Data) bool
	// EqualIgnoringSource compares content only.
	EqualIgnoringSource(other Data) bool
	// HashContent writes a canonical encoding of the content, excluding
	// slot and source.
	HashContent(w io.Writer)
}

// WithSymbolicID is implemented by entities that carry a business key.
type WithSymbolicID interface {
	SymbolicID() SymbolicID
}

// WithSoftLinks is implemented by entities that refer to other entities by
// symbolic id.
type WithSoftLinks interface {
	SoftLinks() []SymbolicID
	// UpdateLink rewrites every occurrence of old to updated and reports
	// whether anything changed.
	UpdateLink(old, updated SymbolicID) bool
}

// SymbolicIDOf returns the symbolic id of d, or nil.
func SymbolicIDOf(d Data) SymbolicID {
	if s, ok := d.(WithSymbolicID); ok {
		return s.SymbolicID()
	}
	return nil
}

// SoftLinksOf returns the soft links of d, or nil.
func SoftLinksOf(d Data) []SymbolicID {
	if s, ok := d.(WithSoftLinks); ok {
		return s.SoftLinks()
	}
	return nil
}

// Base carries the storage-owned fields. Embed it by value in entity types.
type Base struct {
	slot   int
	source Source
}

// NewBase returns a Base with the given source.
func NewBase(src Source) Base {
	return Base{source: src}
}

func (b *Base) Slot() int { return b.slot }

func (b *Base) SetSlot(slot int) { b.slot = slot }

func (b *Base) Source() Source { return b.source }

func (b *Base) SetSource(src Source) { b.source = src }
