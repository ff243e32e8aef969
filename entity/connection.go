package entity

import (
	"cmp"
	"fmt"
)

// ConnectionType is the closed set of relation kinds. Every switch over it
// lists all four kinds.
type ConnectionType uint8

const (
	OneToOne ConnectionType = iota + 1
	OneToMany
	OneToAbstractMany
	AbstractOneToOne
)

func (k ConnectionType) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case OneToAbstractMany:
		return "one-to-abstract-many"
	case AbstractOneToOne:
		return "abstract-one-to-one"
	default:
		return fmt.Sprintf("ConnectionType(%d)", uint8(k))
	}
}

// ParseConnectionType maps the String form back to the kind.
func ParseConnectionType(s string) (ConnectionType, bool) {
	for _, k := range []ConnectionType{OneToOne, OneToMany, OneToAbstractMany, AbstractOneToOne} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

func (k ConnectionType) mustBeValid() {
	switch k {
	case OneToOne, OneToMany, OneToAbstractMany, AbstractOneToOne:
	default:
		panic(fmt.Sprintf("invalid connection type %d", uint8(k)))
	}
}

// ConnectionID describes one relation between a parent and a child type.
// Obtain instances from Registry.Connection only; they are interned.
type ConnectionID struct {
	Parent TypeID
	Child  TypeID
	Kind   ConnectionType
	// ParentNullable: the child may exist without a parent.
	ParentNullable bool
	// ChildNullable: a one-to-one parent may exist without its child.
	ChildNullable bool
}

// CanRemoveParent reports whether the child survives losing its parent.
func (c *ConnectionID) CanRemoveParent() bool {
	return c.ParentNullable
}

// CanRemoveChild reports whether a child may be taken away from the parent.
// Collections always allow it.
func (c *ConnectionID) CanRemoveChild() bool {
	switch c.Kind {
	case OneToMany, OneToAbstractMany:
		return true
	case OneToOne, AbstractOneToOne:
		return c.ChildNullable
	default:
		panic(fmt.Sprintf("invalid connection type %d", uint8(c.Kind)))
	}
}

// IsOneToOne reports whether each parent holds at most one child.
func (c *ConnectionID) IsOneToOne() bool {
	switch c.Kind {
	case OneToOne, AbstractOneToOne:
		return true
	case OneToMany, OneToAbstractMany:
		return false
	default:
		panic(fmt.Sprintf("invalid connection type %d", uint8(c.Kind)))
	}
}

// IsAbstract reports whether child (many) or both sides (one-to-one) may be
// subtypes of the declared types.
func (c *ConnectionID) IsAbstract() bool {
	switch c.Kind {
	case OneToAbstractMany, AbstractOneToOne:
		return true
	case OneToOne, OneToMany:
		return false
	default:
		panic(fmt.Sprintf("invalid connection type %d", uint8(c.Kind)))
	}
}

func (c *ConnectionID) String() string {
	return fmt.Sprintf("%d -%s-> %d", c.Parent, c.Kind, c.Child)
}

// Compare orders connections by parent, child, kind and nullability.
func (c *ConnectionID) Compare(o *ConnectionID) int {
	switch {
	case c.Parent != o.Parent:
		return cmp.Compare(c.Parent, o.Parent)
	case c.Child != o.Child:
		return cmp.Compare(c.Child, o.Child)
	case c.Kind != o.Kind:
		return cmp.Compare(c.Kind, o.Kind)
	case c.ParentNullable != o.ParentNullable:
		if c.ParentNullable {
			return 1
		}
		return -1
	case c.ChildNullable != o.ChildNullable:
		if c.ChildNullable {
			return 1
		}
		return -1
	}
	return 0
}
