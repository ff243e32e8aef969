package storage

import (
	"slices"

	"github.com/teranos/entitystore/entity"
)

// setParent links child under parent over conn. A one-to-one parent loses
// its previous child; when that child cannot live alone it is removed.
func (b *Builder) setParent(tr *refTracker, conn *entity.ConnectionID, child, parent entity.EntityID) {
	tr.touch(child)
	tr.touch(parent)
	if old, ok := b.refs.Parent(conn, child); ok {
		if old == parent {
			return
		}
		tr.touch(old)
	}
	if conn.IsOneToOne() {
		for _, c := range b.refs.Children(conn, parent) {
			tr.touch(c)
		}
	}
	b.dropOrphans(tr, conn, b.refs.SetParent(conn, child, parent))
}

// addChild appends child to the children of parent over conn.
func (b *Builder) addChild(tr *refTracker, conn *entity.ConnectionID, parent, child entity.EntityID) {
	if conn.IsOneToOne() {
		b.setParent(tr, conn, child, parent)
		return
	}
	tr.touch(parent)
	tr.touch(child)
	if old, ok := b.refs.Parent(conn, child); ok {
		if old == parent {
			return
		}
		tr.touch(old)
	}
	b.dropOrphans(tr, conn, b.refs.AddChild(conn, parent, child))
}

// setChildren replaces the ordered children of parent over conn.
func (b *Builder) setChildren(tr *refTracker, conn *entity.ConnectionID, parent entity.EntityID, children []entity.EntityID) {
	old := b.refs.Children(conn, parent)
	if slices.Equal(old, children) {
		return
	}
	tr.touch(parent)
	for _, c := range old {
		tr.touch(c)
	}
	for _, c := range children {
		tr.touch(c)
		if p, ok := b.refs.Parent(conn, c); ok {
			tr.touch(p)
		}
	}
	b.dropOrphans(tr, conn, b.refs.SetChildren(conn, parent, children))
}

// removeChild unlinks child from parent over conn. A child that cannot live
// without its parent is removed.
func (b *Builder) removeChild(tr *refTracker, conn *entity.ConnectionID, parent, child entity.EntityID) {
	if p, ok := b.refs.Parent(conn, child); !ok || p != parent {
		return
	}
	tr.touch(parent)
	tr.touch(child)
	b.refs.RemoveRef(conn, parent, child)
	b.dropOrphans(tr, conn, []entity.EntityID{child})
}

// removeParent unlinks child from its parent over conn.
func (b *Builder) removeParent(tr *refTracker, conn *entity.ConnectionID, child entity.EntityID) {
	p, ok := b.refs.Parent(conn, child)
	if !ok {
		return
	}
	tr.touch(p)
	tr.touch(child)
	b.refs.RemoveParent(conn, child)
}

// dropOrphans removes detached children that cannot exist without a parent
// over conn.
func (b *Builder) dropOrphans(tr *refTracker, conn *entity.ConnectionID, detached []entity.EntityID) {
	if conn.CanRemoveParent() {
		return
	}
	if b.deferring {
		for _, c := range detached {
			b.deferred = append(b.deferred, orphan{conn: conn, id: c})
		}
		return
	}
	for _, c := range detached {
		if b.entities.Get(c) == nil {
			continue
		}
		if _, ok := b.refs.Parent(conn, c); ok {
			continue
		}
		b.removeCascade(tr, c)
	}
}

// deferOrphans starts collecting detached mandatory children.
func (b *Builder) deferOrphans() {
	b.deferring = true
	b.deferred = nil
}

// settleOrphans removes the collected children that are still without a
// parent and returns them.
func (b *Builder) settleOrphans(tr *refTracker) []entity.EntityID {
	pending := b.deferred
	b.deferring = false
	b.deferred = nil
	var lost []entity.EntityID
	for _, o := range pending {
		if b.entities.Get(o.id) == nil {
			continue
		}
		if _, ok := b.refs.Parent(o.conn, o.id); ok {
			continue
		}
		lost = append(lost, b.removeCascade(tr, o.id)...)
	}
	return lost
}
