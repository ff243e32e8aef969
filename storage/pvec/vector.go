// Package pvec implements a persistent vector split into fixed-size chunks.
//
// A Vector is immutable and can be shared between goroutines. A Builder is a
// transient, single-owner view: it copies a chunk the first time it writes to
// it after a Freeze and reuses that private copy for later writes. Freeze is
// O(1); the chunk table itself is copied once on the first write after it.
package pvec

import "iter"

const (
	chunkBits = 5
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

// owner identifies the builder generation allowed to write a chunk in place.
type owner struct{ _ byte }

type chunk[T any] struct {
	owner *owner
	items [chunkSize]T
}

// Vector is an immutable sequence. The zero value and nil are empty.
type Vector[T any] struct {
	chunks []*chunk[T]
	length int
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	if v == nil {
		return 0
	}
	return v.length
}

// Get returns the element at i. It panics when i is out of range.
func (v *Vector[T]) Get(i int) T {
	if i < 0 || i >= v.Len() {
		panic("pvec: index out of range")
	}
	return v.chunks[i>>chunkBits].items[i&chunkMask]
}

// All iterates over index/element pairs in order.
func (v *Vector[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < v.Len(); i++ {
			if !yield(i, v.chunks[i>>chunkBits].items[i&chunkMask]) {
				return
			}
		}
	}
}

// Builder returns a transient copy sharing all chunks with v.
func (v *Vector[T]) Builder() *Builder[T] {
	if v == nil {
		return New[T]()
	}
	return &Builder[T]{chunks: v.chunks, length: v.length, owner: &owner{}, sharedTable: true}
}

// Builder is the mutable counterpart of Vector. It is not safe for
// concurrent use.
type Builder[T any] struct {
	chunks      []*chunk[T]
	length      int
	owner       *owner
	sharedTable bool
}

// New returns an empty builder.
func New[T any]() *Builder[T] {
	return &Builder[T]{owner: &owner{}}
}

// Len returns the number of elements.
func (b *Builder[T]) Len() int {
	return b.length
}

// Get returns the element at i. It panics when i is out of range.
func (b *Builder[T]) Get(i int) T {
	if i < 0 || i >= b.length {
		panic("pvec: index out of range")
	}
	return b.chunks[i>>chunkBits].items[i&chunkMask]
}

// Set replaces the element at i.
func (b *Builder[T]) Set(i int, value T) {
	if i < 0 || i >= b.length {
		panic("pvec: index out of range")
	}
	c := b.writable(i >> chunkBits)
	c.items[i&chunkMask] = value
}

// Append adds value at the end and returns its index.
func (b *Builder[T]) Append(value T) int {
	i := b.length
	if i>>chunkBits == len(b.chunks) {
		b.ownTable()
		b.chunks = append(b.chunks, &chunk[T]{owner: b.owner})
	}
	b.length++
	b.writable(i >> chunkBits).items[i&chunkMask] = value
	return i
}

// All iterates over index/element pairs in order.
func (b *Builder[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < b.length; i++ {
			if !yield(i, b.chunks[i>>chunkBits].items[i&chunkMask]) {
				return
			}
		}
	}
}

// Freeze publishes the current contents as a Vector. The builder stays usable;
// its next write to any chunk copies that chunk first.
func (b *Builder[T]) Freeze() *Vector[T] {
	v := &Vector[T]{chunks: b.chunks, length: b.length}
	b.owner = &owner{}
	b.sharedTable = true
	return v
}

func (b *Builder[T]) ownTable() {
	if !b.sharedTable {
		return
	}
	table := make([]*chunk[T], len(b.chunks), len(b.chunks)+1)
	copy(table, b.chunks)
	b.chunks = table
	b.sharedTable = false
}

func (b *Builder[T]) writable(ci int) *chunk[T] {
	c := b.chunks[ci]
	if c.owner == b.owner {
		return c
	}
	b.ownTable()
	cp := &chunk[T]{owner: b.owner, items: c.items}
	b.chunks[ci] = cp
	return cp
}
