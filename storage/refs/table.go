// Package refs holds the references between entities, one container per
// connection.
//
// Containers of a frozen Table are shared with every MutableTable thawed from
// it. A MutableTable copies a container the first time it writes to it in a
// transaction. Callers validate endpoint types; a table ignores endpoints whose
// type does not match a concrete side of the connection.
package refs

import (
	"maps"
	"slices"

	"github.com/teranos/entitystore/entity"
)

// Reader is the read side shared by Table and MutableTable.
type Reader interface {
	// Children returns the ordered children of parent over conn.
	Children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID
	// Parent returns the parent of child over conn.
	Parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool)
	// ChildrenOf returns every non-empty child list of parent.
	ChildrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID
	// ParentsOf returns every parent of child.
	ParentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID
	// Connections lists the connections holding at least one reference.
	Connections() []*entity.ConnectionID
	// Parents lists the parents holding children over conn.
	Parents(conn *entity.ConnectionID) []entity.EntityID
	// Size is the number of references over conn.
	Size(conn *entity.ConnectionID) int
}

type containers map[*entity.ConnectionID]container

func (cs containers) children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID {
	if c, ok := cs[conn]; ok {
		return c.children(parent)
	}
	return nil
}

func (cs containers) parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool) {
	if c, ok := cs[conn]; ok {
		return c.parent(child)
	}
	return 0, false
}

func (cs containers) childrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID {
	out := map[*entity.ConnectionID][]entity.EntityID{}
	for conn, c := range cs {
		if list := c.children(parent); len(list) > 0 {
			out[conn] = list
		}
	}
	return out
}

func (cs containers) parentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID {
	out := map[*entity.ConnectionID]entity.EntityID{}
	for conn, c := range cs {
		if p, ok := c.parent(child); ok {
			out[conn] = p
		}
	}
	return out
}

func (cs containers) connections() []*entity.ConnectionID {
	out := make([]*entity.ConnectionID, 0, len(cs))
	for conn, c := range cs {
		if c.size() > 0 {
			out = append(out, conn)
		}
	}
	slices.SortFunc(out, (*entity.ConnectionID).Compare)
	return out
}

func (cs containers) parents(conn *entity.ConnectionID) []entity.EntityID {
	if c, ok := cs[conn]; ok {
		return c.parents()
	}
	return nil
}

func (cs containers) size(conn *entity.ConnectionID) int {
	if c, ok := cs[conn]; ok {
		return c.size()
	}
	return 0
}

// Table is a frozen reference table.
type Table struct {
	cs containers
}

// Empty returns a table without references.
func Empty() *Table {
	return &Table{cs: containers{}}
}

func (t *Table) Children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID {
	return t.cs.children(conn, parent)
}

func (t *Table) Parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool) {
	return t.cs.parent(conn, child)
}

func (t *Table) ChildrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID {
	return t.cs.childrenOf(parent)
}

func (t *Table) ParentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID {
	return t.cs.parentsOf(child)
}

func (t *Table) Connections() []*entity.ConnectionID {
	return t.cs.connections()
}

func (t *Table) Parents(conn *entity.ConnectionID) []entity.EntityID {
	return t.cs.parents(conn)
}

func (t *Table) Size(conn *entity.ConnectionID) int {
	return t.cs.size(conn)
}

// Thaw returns a mutable table sharing every container with t.
func (t *Table) Thaw() *MutableTable {
	return &MutableTable{cs: maps.Clone(t.cs), owned: map[*entity.ConnectionID]struct{}{}}
}

// MutableTable is the thawed table of a builder. It is not safe for
// concurrent use.
type MutableTable struct {
	cs    containers
	owned map[*entity.ConnectionID]struct{}
}

// NewMutable returns an empty mutable table.
func NewMutable() *MutableTable {
	return Empty().Thaw()
}

func (m *MutableTable) Children(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID {
	return m.cs.children(conn, parent)
}

func (m *MutableTable) Parent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool) {
	return m.cs.parent(conn, child)
}

func (m *MutableTable) ChildrenOf(parent entity.EntityID) map[*entity.ConnectionID][]entity.EntityID {
	return m.cs.childrenOf(parent)
}

func (m *MutableTable) ParentsOf(child entity.EntityID) map[*entity.ConnectionID]entity.EntityID {
	return m.cs.parentsOf(child)
}

func (m *MutableTable) Connections() []*entity.ConnectionID {
	return m.cs.connections()
}

func (m *MutableTable) Parents(conn *entity.ConnectionID) []entity.EntityID {
	return m.cs.parents(conn)
}

func (m *MutableTable) Size(conn *entity.ConnectionID) int {
	return m.cs.size(conn)
}

// SetParent links child to parent, replacing its previous parent over conn.
// It returns the children that lost parent through the update: on a
// one-to-one connection the previous child of parent.
func (m *MutableTable) SetParent(conn *entity.ConnectionID, child, parent entity.EntityID) []entity.EntityID {
	return m.writable(conn).addChild(parent, child)
}

// AddChild appends child to parent. A child moves away from its previous
// parent.
func (m *MutableTable) AddChild(conn *entity.ConnectionID, parent, child entity.EntityID) []entity.EntityID {
	return m.writable(conn).addChild(parent, child)
}

// SetChildren replaces the ordered children of parent and returns the
// previous children that are no longer linked.
func (m *MutableTable) SetChildren(conn *entity.ConnectionID, parent entity.EntityID, children []entity.EntityID) []entity.EntityID {
	if len(children) == 0 {
		if _, ok := m.cs[conn]; !ok {
			return nil
		}
	}
	return m.writable(conn).setChildren(parent, children)
}

// RemoveRef unlinks one reference. It reports whether it existed.
func (m *MutableTable) RemoveRef(conn *entity.ConnectionID, parent, child entity.EntityID) bool {
	if p, ok := m.cs.parent(conn, child); !ok || p != parent {
		return false
	}
	return m.writable(conn).removeRef(parent, child)
}

// RemoveParent detaches child from its parent over conn.
func (m *MutableTable) RemoveParent(conn *entity.ConnectionID, child entity.EntityID) (entity.EntityID, bool) {
	if _, ok := m.cs.parent(conn, child); !ok {
		return 0, false
	}
	return m.writable(conn).removeParent(child)
}

// RemoveChildren detaches every child of parent over conn and returns them.
func (m *MutableTable) RemoveChildren(conn *entity.ConnectionID, parent entity.EntityID) []entity.EntityID {
	if len(m.cs.children(conn, parent)) == 0 {
		return nil
	}
	return m.writable(conn).removeChildren(parent)
}

// Freeze publishes the current state. The mutable table stays usable and
// copies containers again on its next writes.
func (m *MutableTable) Freeze() *Table {
	clear(m.owned)
	return &Table{cs: maps.Clone(m.cs)}
}

func (m *MutableTable) writable(conn *entity.ConnectionID) container {
	if _, own := m.owned[conn]; own {
		return m.cs[conn]
	}
	c, ok := m.cs[conn]
	if ok {
		c = c.clone()
	} else {
		c = newContainer(conn)
	}
	m.cs[conn] = c
	m.owned[conn] = struct{}{}
	return c
}
