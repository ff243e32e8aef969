package storage

import (
	"slices"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/changelog"
)

// refState is the refs of one entity at the time it was first touched.
type refState struct {
	children map[*entity.ConnectionID][]entity.EntityID
	parents  map[*entity.ConnectionID]entity.EntityID
}

// refTracker turns ref changes of one operation into Replace events. Entities
// are captured before their first ref change and compared on flush, so only
// real changes are logged. Entities added by the operation are logged as Add
// and are not tracked.
type refTracker struct {
	b      *Builder
	before map[entity.EntityID]refState
	order  []entity.EntityID
	fresh  map[entity.EntityID]struct{}
}

func (b *Builder) newTracker() *refTracker {
	return &refTracker{
		b:      b,
		before: map[entity.EntityID]refState{},
		fresh:  map[entity.EntityID]struct{}{},
	}
}

func (t *refTracker) capture(id entity.EntityID) refState {
	return refState{
		children: t.b.refs.ChildrenOf(id),
		parents:  t.b.refs.ParentsOf(id),
	}
}

// touch records the refs of id unless it was recorded or added before.
func (t *refTracker) touch(id entity.EntityID) {
	if _, ok := t.fresh[id]; ok {
		return
	}
	if _, ok := t.before[id]; ok {
		return
	}
	t.before[id] = t.capture(id)
	t.order = append(t.order, id)
}

// added marks id as created by the operation.
func (t *refTracker) added(id entity.EntityID) {
	t.fresh[id] = struct{}{}
}

func (t *refTracker) isFresh(id entity.EntityID) bool {
	_, ok := t.fresh[id]
	return ok
}

// flush logs a Replace for every touched entity whose refs changed. Links to
// entities that no longer exist are not reported; their removal is.
func (t *refTracker) flush() {
	for _, id := range t.order {
		if t.isFresh(id) {
			continue
		}
		d := t.b.entities.Get(id)
		if d == nil {
			continue
		}
		prev := t.before[id]
		now := t.capture(id)
		e := changelog.Entry{Data: d}
		t.diffChildren(prev, now, &e)
		t.diffParents(prev, now, &e)
		if len(e.AddedChildren) == 0 && len(e.RemovedChildren) == 0 && len(e.ModifiedParents) == 0 {
			continue
		}
		t.b.changes.Replace(id, e)
	}
	t.before = map[entity.EntityID]refState{}
	t.order = nil
}

func (t *refTracker) diffChildren(prev, now refState, e *changelog.Entry) {
	conns := map[*entity.ConnectionID]struct{}{}
	for c := range prev.children {
		conns[c] = struct{}{}
	}
	for c := range now.children {
		conns[c] = struct{}{}
	}
	for conn := range conns {
		was, is := prev.children[conn], now.children[conn]
		for _, k := range is {
			if slices.Contains(was, k) || t.isFresh(k) {
				continue
			}
			if e.AddedChildren == nil {
				e.AddedChildren = changelog.ChildSet{}
			}
			e.AddedChildren[changelog.ChildRef{Conn: conn, Child: k}] = struct{}{}
		}
		for _, k := range was {
			if slices.Contains(is, k) || t.b.entities.Get(k) == nil {
				continue
			}
			if e.RemovedChildren == nil {
				e.RemovedChildren = changelog.ChildSet{}
			}
			e.RemovedChildren[changelog.ChildRef{Conn: conn, Child: k}] = struct{}{}
		}
	}
}

func (t *refTracker) diffParents(prev, now refState, e *changelog.Entry) {
	set := func(conn *entity.ConnectionID, r changelog.ParentRef) {
		if e.ModifiedParents == nil {
			e.ModifiedParents = map[*entity.ConnectionID]changelog.ParentRef{}
		}
		e.ModifiedParents[conn] = r
	}
	for conn, p := range now.parents {
		if old, ok := prev.parents[conn]; ok && old == p {
			continue
		}
		if t.isFresh(p) {
			continue
		}
		set(conn, changelog.ParentRef{Parent: p})
	}
	for conn, old := range prev.parents {
		if _, ok := now.parents[conn]; ok {
			continue
		}
		if t.b.entities.Get(old) == nil {
			continue
		}
		set(conn, changelog.ParentRef{Removed: true})
	}
}
