package storage

import (
	"time"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/changelog"
)

// Mutation is the handle ModifyEntity passes to its callback. Content is
// changed through Data; refs through the link methods. The first failing
// call is returned by ModifyEntity and later calls are ignored.
type Mutation struct {
	b      *Builder
	id     entity.EntityID
	tr     *refTracker
	before entity.Data
	data   entity.Data
	err    error
}

// ID returns the id of the modified entity.
func (m *Mutation) ID() entity.EntityID { return m.id }

// Data returns a private copy of the entity to change in place.
func (m *Mutation) Data() entity.Data {
	if m.data == nil {
		m.before = m.b.entities.Get(m.id).Clone()
		m.before.SetSlot(m.id.Slot())
		m.data = m.b.entities.GetForModification(m.id)
	}
	return m.data
}

func (m *Mutation) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

// SetParent links the entity under parent over conn.
func (m *Mutation) SetParent(conn *entity.ConnectionID, parent entity.EntityID) {
	if m.err != nil {
		return
	}
	if err := m.b.checkEndpoint(conn, m.id, false); err != nil {
		m.fail(err)
		return
	}
	if err := m.b.checkEndpoint(conn, parent, true); err != nil {
		m.fail(err)
		return
	}
	m.b.setParent(m.tr, conn, m.id, parent)
}

// RemoveParent unlinks the entity from its parent over conn.
func (m *Mutation) RemoveParent(conn *entity.ConnectionID) {
	if m.err != nil {
		return
	}
	if !conn.CanRemoveParent() {
		m.fail(errors.NewInvalidRequestError("parent over %s is mandatory", m.b.reg.Describe(conn)))
		return
	}
	m.b.removeParent(m.tr, conn, m.id)
}

// SetChildren replaces the children of the entity over conn, in order.
func (m *Mutation) SetChildren(conn *entity.ConnectionID, children ...entity.EntityID) {
	if m.err != nil {
		return
	}
	if err := m.b.checkRef(m.id.Type(), ChildrenRef(conn, children...)); err != nil {
		m.fail(err)
		return
	}
	if err := m.b.checkEndpoint(conn, m.id, true); err != nil {
		m.fail(err)
		return
	}
	m.b.setChildren(m.tr, conn, m.id, children)
}

// AddChild appends child to the children of the entity over conn.
func (m *Mutation) AddChild(conn *entity.ConnectionID, child entity.EntityID) {
	if m.err != nil {
		return
	}
	if err := m.b.checkEndpoint(conn, m.id, true); err != nil {
		m.fail(err)
		return
	}
	if err := m.b.checkEndpoint(conn, child, false); err != nil {
		m.fail(err)
		return
	}
	m.b.addChild(m.tr, conn, m.id, child)
}

// RemoveChild unlinks child. A child that cannot live without the entity is
// removed with its own dependants.
func (m *Mutation) RemoveChild(conn *entity.ConnectionID, child entity.EntityID) {
	if m.err != nil {
		return
	}
	if !conn.CanRemoveChild() {
		m.fail(errors.NewInvalidRequestError("child over %s is mandatory", m.b.reg.Describe(conn)))
		return
	}
	m.b.removeChild(m.tr, conn, m.id, child)
}

// ModifyEntity runs fn against the entity with id and records what changed.
// Renaming the symbolic id to one held by another entity fails and restores
// the content; ref changes made before the failure are kept.
func (b *Builder) ModifyEntity(id entity.EntityID, fn func(m *Mutation)) (err error) {
	defer b.guard.enter("ModifyEntity")()
	start := time.Now()
	defer func() { recordOperation("modify_entity", start, err) }()

	if b.entities.Get(id) == nil {
		return errors.NewNotFoundError("entity %s", id)
	}
	m := &Mutation{b: b, id: id, tr: b.newTracker()}
	fn(m)
	if m.data != nil && b.entities.Get(id) != nil {
		if err := b.commitData(m); err != nil {
			m.fail(err)
		}
	}
	m.tr.flush()
	return m.err
}

func (b *Builder) commitData(m *Mutation) error {
	before, after := m.before, m.data
	after.SetSlot(m.id.Slot())
	if after.Source() == nil {
		b.entities.Replace(m.id, before)
		return errors.NewInvalidRequestError("entity %s has no source", m.id)
	}
	contentChanged := !after.EqualIgnoringSource(before)
	sourceChanged := after.Source() != before.Source()
	if !contentChanged && !sourceChanged {
		return nil
	}
	oldSym, newSym := entity.SymbolicIDOf(before), entity.SymbolicIDOf(after)
	if newSym != nil && newSym != oldSym {
		if holder, ok := b.indexes.Resolve(newSym); ok && holder != m.id {
			b.entities.Replace(m.id, before)
			return errors.Wrapf(errors.ErrConflict, "%s is held by %s", newSym, holder)
		}
	}
	b.indexes.Index(m.id, after)
	if contentChanged {
		b.changes.Replace(m.id, changelog.Entry{Data: after, Before: before})
	}
	if sourceChanged {
		b.changes.ChangeSource(m.id, before, after)
	}
	if oldSym != nil && newSym != nil && newSym != oldSym {
		b.rewriteSoftLinks(oldSym, newSym)
	}
	return nil
}

// rewriteSoftLinks points every referrer of old at updated.
func (b *Builder) rewriteSoftLinks(old, updated entity.SymbolicID) {
	referrers := b.indexes.Referrers(old)
	for _, rid := range referrers {
		prev := b.entities.Get(rid).Clone()
		prev.SetSlot(rid.Slot())
		d := b.entities.GetForModification(rid)
		ws, ok := d.(entity.WithSoftLinks)
		if !ok || !ws.UpdateLink(old, updated) {
			continue
		}
		b.indexes.SetSoftLinks(rid, ws.SoftLinks())
		b.changes.Replace(rid, changelog.Entry{Data: d, Before: prev})
	}
	if len(referrers) > 0 {
		b.log.Debugw("Soft links rewritten",
			logger.FieldSymbolicID, updated.String(),
			logger.FieldCount, len(referrers))
	}
}
