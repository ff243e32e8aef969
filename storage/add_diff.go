package storage

import (
	"context"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/storeerror"
)

// diffMerge is the state of one AddDiff call.
type diffMerge struct {
	b    *Builder
	diff *Builder
	tr   *refTracker
	log  *zap.SugaredLogger
	// remap maps diff ids of added entities to target ids.
	remap map[entity.EntityID]entity.EntityID
	// placed holds the target ids filled by added entities.
	placed map[entity.EntityID]struct{}
	// booked maps booked target ids to the diff id they wait for.
	booked map[entity.EntityID]entity.EntityID
	// copied maps diff ids to target ids whose index entries are copied.
	copied map[entity.EntityID]entity.EntityID
	errs   error
	count  int
}

// AddDiff applies the changes recorded in diff to b. Added entities get
// target ids, removals cascade, replaced entities are overwritten and their
// ref changes replayed. References to entities added later in the diff are
// resolved through booked ids. Failures are reported; they are returned only
// by strict builders.
func (b *Builder) AddDiff(diff *Builder) (err error) {
	defer b.guard.enter("AddDiff")()
	if diff == nil || diff.changes.Len() == 0 {
		return nil
	}
	start := time.Now()
	_, span := startMergeSpan(context.Background(), "add_diff", b.id)

	m := &diffMerge{
		b:      b,
		diff:   diff,
		tr:     b.newTracker(),
		log:    b.log.Named("adddiff"),
		remap:  map[entity.EntityID]entity.EntityID{},
		placed: map[entity.EntityID]struct{}{},
		booked: map[entity.EntityID]entity.EntityID{},
		copied: map[entity.EntityID]entity.EntityID{},
	}
	before := b.changes.ModificationCount()
	b.deferOrphans()
	for id, ch := range diff.changes.All() {
		m.apply(id, ch)
	}
	m.releaseBookings()
	b.settleOrphans(m.tr)
	b.indexes.CopyMappings(diff.indexes, m.copied)
	b.indexes.CopyVirtualFiles(diff.indexes, m.copied)
	m.tr.flush()

	m.fail(b.checkAfterMerge("add_diff"))
	err = m.errs
	changed := int(b.changes.ModificationCount() - before)
	m.log.Infow("Diff added",
		logger.FieldCount, diff.changes.Len(),
		logger.FieldAdded, m.count,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	recordChanged("add_diff", changed)
	recordOperation("add_diff", start, err)
	endMergeSpan(span, changed, err)
	return err
}

func (m *diffMerge) fail(err error) {
	if err != nil {
		m.errs = errors.CombineErrors(m.errs, err)
	}
}

func (m *diffMerge) apply(id entity.EntityID, ch changelog.Change) {
	switch ch.Primary.Kind {
	case changelog.KindAdd:
		m.add(id)
	case changelog.KindRemove:
		m.remove(id)
	case changelog.KindReplace:
		m.replace(id, ch.Primary)
	case changelog.KindChangeSource:
		m.relabel(id)
	default:
		panic("storage: unknown change kind " + ch.Primary.Kind.String())
	}
}

// resolve maps a diff id to the target id it refers to. Entities added by
// the diff and not yet placed get a booked id.
func (m *diffMerge) resolve(id entity.EntityID) (entity.EntityID, bool) {
	if t, ok := m.remap[id]; ok {
		return t, true
	}
	if ch, ok := m.diff.changes.Get(id); ok && ch.Primary.Kind == changelog.KindAdd {
		t := m.b.entities.Book(id.Type())
		m.remap[id] = t
		m.booked[t] = id
		return t, true
	}
	if _, ok := m.placed[id]; ok {
		return 0, false
	}
	if m.b.entities.Get(id) != nil {
		return id, true
	}
	return 0, false
}

func (m *diffMerge) add(id entity.EntityID) {
	src := m.diff.entities.Get(id)
	if src == nil {
		return
	}
	d := src.Clone()
	t, ok := m.remap[id]
	m.evict(d, noEntity)
	if ok && m.b.entities.IsBooked(t) {
		m.b.entities.Fill(t, d)
		delete(m.booked, t)
	} else {
		t = m.b.entities.Add(id.Type(), d)
		m.remap[id] = t
	}
	m.placed[t] = struct{}{}
	m.copied[id] = t
	m.tr.added(t)
	m.b.indexes.Index(t, d)
	m.b.changes.Add(t, d)
	m.count++
	m.link(id, t)
}

// link replays the refs of the added diff entity id onto t.
func (m *diffMerge) link(id, t entity.EntityID) {
	parents := m.diff.refs.ParentsOf(id)
	for _, conn := range sortedConns(parents) {
		p, ok := m.resolve(parents[conn])
		if !ok {
			m.missing(id, conn, parents[conn], !conn.CanRemoveParent())
			continue
		}
		m.b.setParent(m.tr, conn, t, p)
	}
	children := m.diff.refs.ChildrenOf(id)
	for _, conn := range sortedConns(children) {
		var out []entity.EntityID
		for _, k := range children[conn] {
			tk, ok := m.resolve(k)
			if !ok {
				m.missing(id, conn, k, !conn.CanRemoveChild())
				continue
			}
			out = append(out, tk)
		}
		m.b.setChildren(m.tr, conn, t, out)
	}
}

func (m *diffMerge) remove(id entity.EntityID) {
	if _, ok := m.placed[id]; ok {
		return
	}
	if m.b.entities.Get(id) == nil {
		return
	}
	m.b.removeCascade(m.tr, id)
}

func (m *diffMerge) replace(id entity.EntityID, e changelog.Entry) {
	cur := m.diff.entities.Get(id)
	if cur == nil || m.b.entities.Get(id) == nil {
		m.log.Warnw("Replaced entity is missing in the target",
			logger.FieldEntityID, id.String())
		return
	}
	if _, ok := m.placed[id]; ok {
		m.log.Warnw("Replaced entity id is taken by an added entity",
			logger.FieldEntityID, id.String())
		return
	}
	m.overwrite(id, cur)
	m.copied[id] = id

	conns := map[*entity.ConnectionID]struct{}{}
	for r := range e.AddedChildren {
		conns[r.Conn] = struct{}{}
	}
	for r := range e.RemovedChildren {
		conns[r.Conn] = struct{}{}
	}
	for _, conn := range sortedConns(conns) {
		var list []entity.EntityID
		for _, k := range m.diff.refs.Children(conn, id) {
			tk, ok := m.resolve(k)
			if !ok {
				m.missing(id, conn, k, !conn.CanRemoveChild())
				continue
			}
			list = append(list, tk)
		}
		for _, k := range m.b.refs.Children(conn, id) {
			if e.RemovedChildren.Has(changelog.ChildRef{Conn: conn, Child: k}) || slices.Contains(list, k) {
				continue
			}
			list = append(list, k)
		}
		if conn.IsOneToOne() && len(list) > 1 {
			list = list[:1]
		}
		m.b.setChildren(m.tr, conn, id, list)
	}
	for _, conn := range sortedConns(e.ModifiedParents) {
		pr := e.ModifiedParents[conn]
		if pr.Removed {
			if conn.CanRemoveParent() {
				m.b.removeParent(m.tr, conn, id)
			}
			continue
		}
		p, ok := m.resolve(pr.Parent)
		if !ok {
			m.missing(id, conn, pr.Parent, !conn.CanRemoveParent())
			continue
		}
		m.b.setParent(m.tr, conn, id, p)
	}
}

// overwrite stores a copy of d under the existing target id.
func (m *diffMerge) overwrite(id entity.EntityID, d entity.Data) {
	old := m.b.entities.Get(id)
	if old.Equal(d) {
		return
	}
	c := d.Clone()
	c.SetSlot(id.Slot())
	m.evict(c, id)
	m.b.entities.Replace(id, c)
	m.b.indexes.Index(id, c)
	if !c.EqualIgnoringSource(old) {
		m.b.changes.Replace(id, changelog.Entry{Data: c, Before: old})
	}
	if c.Source() != old.Source() {
		m.b.changes.ChangeSource(id, old, c)
	}
}

func (m *diffMerge) relabel(id entity.EntityID) {
	cur := m.diff.entities.Get(id)
	if cur == nil || m.b.entities.Get(id) == nil {
		return
	}
	if _, ok := m.placed[id]; ok {
		return
	}
	m.b.relabel(id, cur.Source())
}

// evict removes the target entity holding the symbolic id of d, unless it is
// self, and reports the collision.
func (m *diffMerge) evict(d entity.Data, self entity.EntityID) {
	m.fail(m.b.evictHolder(m.tr, d, self, storeerror.SubcategoryCollisionAddDiff))
}

// evictHolder removes the entity holding the symbolic id of d when it is not
// self. The collision is reported with both records attached.
func (b *Builder) evictHolder(tr *refTracker, d entity.Data, self entity.EntityID, sub string) error {
	sym := entity.SymbolicIDOf(d)
	if sym == nil {
		return nil
	}
	holder, ok := b.indexes.Resolve(sym)
	if !ok || holder == self || b.entities.Get(holder) == nil {
		return nil
	}
	evicted := DumpEntity(b, holder)
	b.removeCascade(tr, holder)
	se := storeerror.Newf(storeerror.CategoryIdentityCollision,
		"symbolic id %s is held by %s", sym, holder).
		WithSubcategory(sub).
		WithContext(logger.FieldSymbolicID, sym.String()).
		WithContext(logger.FieldEntityID, holder.String())
	return b.reports.report("Symbolic id collision, stale entity evicted", se, func(se *storeerror.StoreError) {
		se.WithAttachment("evicted", evicted)
		se.WithAttachment("incoming", d)
	})
}

// missing reports a reference of the diff entity id to ref that has no
// target counterpart. Only references the entity cannot live without are
// reported; the others are dropped.
func (m *diffMerge) missing(id entity.EntityID, conn *entity.ConnectionID, ref entity.EntityID, mandatory bool) {
	if !mandatory {
		m.log.Debugw("Optional reference dropped",
			logger.FieldEntityID, id.String(),
			logger.FieldConnection, m.b.reg.Describe(conn))
		return
	}
	m.b.broken.Store(true)
	se := storeerror.Newf(storeerror.CategoryBrokenReference,
		"%s refers to missing %s", id, ref).
		WithSubcategory(storeerror.SubcategoryRefMissingEntity).
		WithContext(logger.FieldEntityID, id.String()).
		WithContext(logger.FieldConnection, m.b.reg.Describe(conn))
	m.fail(m.b.reports.report("Broken reference in diff", se, func(se *storeerror.StoreError) {
		se.WithAttachment("diff", Dump(m.diff, m.b.reports.maxEntities))
		se.WithAttachment("target", Dump(m.b, m.b.reports.maxEntities))
	}))
}

// releaseBookings gives back ids booked for entities the diff never added
// and reports the references that pointed at them.
func (m *diffMerge) releaseBookings() {
	for _, t := range slices.Sorted(maps.Keys(m.booked)) {
		src := m.booked[t]
		parents := m.b.refs.ParentsOf(t)
		for _, conn := range sortedConns(parents) {
			m.tr.touch(parents[conn])
			m.b.refs.RemoveParent(conn, t)
		}
		children := m.b.refs.ChildrenOf(t)
		for _, conn := range sortedConns(children) {
			for _, k := range children[conn] {
				m.tr.touch(k)
			}
			m.b.dropOrphans(m.tr, conn, m.b.refs.RemoveChildren(conn, t))
		}
		m.b.entities.Release(t)
		delete(m.remap, src)
		m.b.broken.Store(true)
		se := storeerror.Newf(storeerror.CategoryBrokenReference,
			"booked id %s for %s was never filled", t, src).
			WithSubcategory(storeerror.SubcategoryRefUnfilledBooking).
			WithContext(logger.FieldEntityID, src.String())
		m.fail(m.b.reports.report("Unfilled booking in diff", se, nil))
	}
}
