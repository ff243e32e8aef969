package storage

import (
	"context"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/entitystore/digest"
	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/storeerror"
)

// identKey identifies an entity across storages: by symbolic id when it has
// one, else by content hash.
type identKey struct {
	t    entity.TypeID
	sym  entity.SymbolicID
	hash digest.Hash
}

func identOf(id entity.EntityID, d entity.Data) identKey {
	if sym := entity.SymbolicIDOf(d); sym != nil {
		return identKey{t: id.Type(), sym: sym}
	}
	return identKey{t: id.Type(), hash: digest.ContentHash(d)}
}

// rbsPair binds a replaceWith entity to the target entity it replaces.
type rbsPair struct {
	w, t entity.EntityID
}

// rbsPlan is what a replace-by-source engine decided: which target entities
// are kept for which replaceWith entities, which are added and which go.
type rbsPlan struct {
	pairs   []rbsPair
	adds    []entity.EntityID // replaceWith ids
	removes []entity.EntityID // target ids
}

// rbsMerge is the state of one replace-by-source call.
type rbsMerge struct {
	b      *Builder
	rw     Reader
	filter func(entity.Source) bool
	tr     *refTracker
	log    *zap.SugaredLogger

	matchedT map[entity.EntityID]struct{}
	remap    map[entity.EntityID]entity.EntityID // replaceWith -> target
	back     map[entity.EntityID]entity.EntityID // target -> replaceWith
	added    map[entity.EntityID]struct{}
	removed  map[entity.EntityID]struct{}
	byHash   map[entity.TypeID]map[digest.Hash][]entity.EntityID
	errs     error
}

func (b *Builder) newRBSMerge(filter func(entity.Source) bool, rw Reader) *rbsMerge {
	m := &rbsMerge{
		b:        b,
		rw:       rw,
		filter:   filter,
		tr:       b.newTracker(),
		log:      b.log.Named("rbs"),
		matchedT: map[entity.EntityID]struct{}{},
		remap:    map[entity.EntityID]entity.EntityID{},
		back:     map[entity.EntityID]entity.EntityID{},
		added:    map[entity.EntityID]struct{}{},
		removed:  map[entity.EntityID]struct{}{},
		byHash:   map[entity.TypeID]map[digest.Hash][]entity.EntityID{},
	}
	for _, id := range b.EntitiesBySource(filter) {
		m.matchedT[id] = struct{}{}
	}
	return m
}

// ReplaceBySource makes the entities of b whose source passes filter equal
// to those of replaceWith whose source passes it, keeping ids of entities
// found on both sides and every entity of other sources. References between
// the two parts are carried over. The engine option selects the algorithm;
// the tree engine falls back to the graph one for shapes it cannot handle.
func (b *Builder) ReplaceBySource(filter func(entity.Source) bool, replaceWith Reader) error {
	if b.opts.Engine == EngineTree {
		_, err := b.ReplaceBySourceAsTree(filter, replaceWith)
		if !errors.IsUnsupportedError(err) {
			return err
		}
		b.log.Infow("Tree replace-by-source cannot handle the graph, using the graph engine",
			logger.FieldError, err.Error())
	}
	defer b.guard.enter("ReplaceBySource")()
	m := b.newRBSMerge(filter, replaceWith)
	return m.run("replace_by_source", m.planGraph())
}

// planGraph pairs matched entities by identity key. Symbolic ids without a
// matched target fall back to the target entity holding them.
func (m *rbsMerge) planGraph() rbsPlan {
	var plan rbsPlan
	targets := m.b.EntitiesBySource(m.filter)
	byKey := map[identKey][]entity.EntityID{}
	for _, t := range targets {
		k := identOf(t, m.b.Get(t))
		byKey[k] = append(byKey[k], t)
	}
	used := map[entity.EntityID]struct{}{}
	for _, w := range m.rw.EntitiesBySource(m.filter) {
		wd := m.rw.Get(w)
		k := identOf(w, wd)
		if list := byKey[k]; len(list) > 0 {
			byKey[k] = list[1:]
			used[list[0]] = struct{}{}
			plan.pairs = append(plan.pairs, rbsPair{w: w, t: list[0]})
			continue
		}
		if k.sym != nil {
			if holder, ok := m.b.indexes.Resolve(k.sym); ok && holder.Type() == w.Type() && !m.isMatched(holder) {
				plan.pairs = append(plan.pairs, rbsPair{w: w, t: holder})
				continue
			}
		}
		plan.adds = append(plan.adds, w)
	}
	for _, t := range targets {
		if _, ok := used[t]; !ok {
			plan.removes = append(plan.removes, t)
		}
	}
	return plan
}

func (m *rbsMerge) isMatched(id entity.EntityID) bool {
	_, ok := m.matchedT[id]
	return ok
}

func (m *rbsMerge) controlled(id entity.EntityID) bool {
	_, ok := m.back[id]
	return ok
}

func (m *rbsMerge) fail(err error) {
	if err != nil {
		m.errs = errors.CombineErrors(m.errs, err)
	}
}

// run applies plan: removals, data of pairs, additions, then references.
func (m *rbsMerge) run(op string, plan rbsPlan) (err error) {
	b := m.b
	start := time.Now()
	_, span := startMergeSpan(context.Background(), op, b.id)
	before := b.changes.ModificationCount()

	b.deferOrphans()
	for _, t := range plan.removes {
		m.remove(t)
	}
	for _, p := range plan.pairs {
		m.pair(p)
	}
	for _, w := range plan.adds {
		m.add(w)
	}
	controlled := slices.Sorted(maps.Keys(m.back))
	for _, x := range controlled {
		m.mergeChildren(x)
	}
	for _, x := range controlled {
		m.linkParents(x)
	}
	if lost := b.settleOrphans(m.tr); len(lost) > 0 {
		m.reportLost(lost)
	}
	m.tr.flush()

	m.fail(b.checkAfterMerge(op))
	err = m.errs
	changed := int(b.changes.ModificationCount() - before)
	m.log.Infow("Replaced by source",
		logger.FieldAdded, len(plan.adds),
		logger.FieldRemoved, len(plan.removes),
		"paired", len(plan.pairs),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	recordChanged(op, changed)
	recordOperation(op, start, err)
	endMergeSpan(span, changed, err)
	return err
}

// remove drops a target entity without cascading. Children that need a
// parent are settled after relinking.
func (m *rbsMerge) remove(t entity.EntityID) {
	b := m.b
	d := b.entities.Get(t)
	if d == nil {
		return
	}
	m.tr.touch(t)
	parents := b.refs.ParentsOf(t)
	for _, conn := range sortedConns(parents) {
		m.tr.touch(parents[conn])
		b.refs.RemoveParent(conn, t)
	}
	children := b.refs.ChildrenOf(t)
	for _, conn := range sortedConns(children) {
		for _, k := range children[conn] {
			m.tr.touch(k)
		}
		b.dropOrphans(m.tr, conn, b.refs.RemoveChildren(conn, t))
	}
	b.indexes.RemoveEntity(t)
	b.entities.Remove(t)
	b.changes.Remove(t, d)
	m.removed[t] = struct{}{}
}

// pair stores the replaceWith data in the paired target entity. A
// placeholder never overrides a real entity.
func (m *rbsMerge) pair(p rbsPair) {
	b := m.b
	m.remap[p.w] = p.t
	m.back[p.t] = p.w
	wd, td := m.rw.Get(p.w), b.entities.Get(p.t)
	if td == nil || td.Equal(wd) {
		return
	}
	if entity.IsPlaceholder(wd.Source()) && !entity.IsPlaceholder(td.Source()) {
		return
	}
	c := wd.Clone()
	c.SetSlot(p.t.Slot())
	m.fail(b.evictHolder(m.tr, c, p.t, storeerror.SubcategoryCollisionReplaceBySource))
	b.entities.Replace(p.t, c)
	b.indexes.Index(p.t, c)
	if !c.EqualIgnoringSource(td) {
		b.changes.Replace(p.t, changelog.Entry{Data: c, Before: td})
	}
	if c.Source() != td.Source() {
		b.changes.ChangeSource(p.t, td, c)
	}
}

func (m *rbsMerge) add(w entity.EntityID) {
	b := m.b
	c := m.rw.Get(w).Clone()
	m.fail(b.evictHolder(m.tr, c, noEntity, storeerror.SubcategoryCollisionReplaceBySource))
	t := b.entities.Add(w.Type(), c)
	m.tr.added(t)
	b.indexes.Index(t, c)
	b.changes.Add(t, c)
	m.remap[w] = t
	m.back[t] = w
	m.added[t] = struct{}{}
}

// targetCounterpart finds the target entity standing for the unmatched
// replaceWith entity w.
func (m *rbsMerge) targetCounterpart(w entity.EntityID) (entity.EntityID, bool) {
	d := m.rw.Get(w)
	if d == nil {
		return 0, false
	}
	if sym := entity.SymbolicIDOf(d); sym != nil {
		id, ok := m.b.indexes.Resolve(sym)
		if !ok || id.Type() != w.Type() {
			return 0, false
		}
		return id, true
	}
	ids := m.unmatchedByHash(w.Type())[digest.ContentHash(d)]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

func (m *rbsMerge) unmatchedByHash(t entity.TypeID) map[digest.Hash][]entity.EntityID {
	if idx, ok := m.byHash[t]; ok {
		return idx
	}
	idx := map[digest.Hash][]entity.EntityID{}
	for d := range m.b.Entities(t) {
		id := entity.NewEntityID(d.Slot(), t)
		if m.isMatched(id) || m.controlled(id) {
			continue
		}
		h := digest.ContentHash(d)
		idx[h] = append(idx[h], id)
	}
	m.byHash[t] = idx
	return idx
}

// mergeChildren makes the children of the controlled entity x follow its
// replaceWith counterpart. Children of other sources keep their positions,
// the slots of kept children are refilled in replaceWith order and new
// children are appended.
func (m *rbsMerge) mergeChildren(x entity.EntityID) {
	b := m.b
	if b.entities.Get(x) == nil {
		return
	}
	w := m.back[x]
	conns := map[*entity.ConnectionID]struct{}{}
	rwKids := m.rw.ChildrenOf(w)
	for c := range rwKids {
		conns[c] = struct{}{}
	}
	for c := range b.refs.ChildrenOf(x) {
		conns[c] = struct{}{}
	}
	for _, conn := range sortedConns(conns) {
		var desired []entity.EntityID
		want := map[entity.EntityID]struct{}{}
		for _, k := range rwKids[conn] {
			tk, ok := m.remap[k]
			if !ok {
				cp, found := m.targetCounterpart(k)
				if !found {
					continue
				}
				if p, has := b.refs.Parent(conn, cp); has && p != x {
					continue
				}
				tk = cp
			}
			if _, dup := want[tk]; dup || b.entities.Get(tk) == nil {
				continue
			}
			want[tk] = struct{}{}
			desired = append(desired, tk)
		}

		cur := b.refs.Children(conn, x)
		have := make(map[entity.EntityID]struct{}, len(cur))
		for _, c := range cur {
			have[c] = struct{}{}
		}
		var present []entity.EntityID
		for _, d := range desired {
			if _, ok := have[d]; ok {
				present = append(present, d)
			}
		}
		result := make([]entity.EntityID, 0, len(cur)+len(desired))
		next := 0
		for _, c := range cur {
			switch _, ok := want[c]; {
			case ok:
				result = append(result, present[next])
				next++
			case m.controlled(c):
			default:
				result = append(result, c)
			}
		}
		for _, d := range desired {
			if _, ok := have[d]; !ok {
				result = append(result, d)
			}
		}
		if conn.IsOneToOne() && len(result) > 1 {
			if len(desired) > 0 {
				result = desired[:1]
			} else {
				result = result[:1]
			}
		}
		b.setChildren(m.tr, conn, x, result)
	}
}

// linkParents resolves the parents of the controlled entity x that are not
// controlled themselves: the replaceWith parent is looked up in the target.
func (m *rbsMerge) linkParents(x entity.EntityID) {
	b := m.b
	if b.entities.Get(x) == nil {
		return
	}
	w := m.back[x]
	rwParents := m.rw.ParentsOf(w)
	for _, conn := range sortedConns(rwParents) {
		pw := rwParents[conn]
		if _, ok := m.remap[pw]; ok {
			continue
		}
		if cp, ok := m.targetCounterpart(pw); ok {
			if cur, has := b.refs.Parent(conn, x); !has || cur != cp {
				b.setParent(m.tr, conn, x, cp)
			}
			continue
		}
		if !conn.CanRemoveParent() {
			if _, isNew := m.added[x]; isNew {
				m.dropAdded(x, conn, pw)
				return
			}
			continue
		}
		if cur, has := b.refs.Parent(conn, x); has && !m.controlled(cur) {
			b.removeParent(m.tr, conn, x)
		}
	}
	parents := b.refs.ParentsOf(x)
	for _, conn := range sortedConns(parents) {
		if _, ok := rwParents[conn]; ok || m.controlled(parents[conn]) {
			continue
		}
		if conn.CanRemoveParent() {
			b.removeParent(m.tr, conn, x)
		}
	}
}

// dropAdded removes an added entity whose mandatory parent has no target
// counterpart.
func (m *rbsMerge) dropAdded(x entity.EntityID, conn *entity.ConnectionID, pw entity.EntityID) {
	b := m.b
	se := storeerror.Newf(storeerror.CategoryBrokenReference,
		"parent %s of %s has no counterpart in the target", pw, m.back[x]).
		WithSubcategory(storeerror.SubcategoryRefMissingEntity).
		WithContext(logger.FieldEntityID, x.String()).
		WithContext(logger.FieldConnection, b.reg.Describe(conn))
	m.fail(b.reports.report("Added entity dropped", se, nil))
	b.removeCascade(m.tr, x)
}

func (m *rbsMerge) reportLost(lost []entity.EntityID) {
	names := make([]string, len(lost))
	for i, id := range lost {
		names[i] = id.String()
	}
	se := storeerror.Newf(storeerror.CategoryBrokenReference,
		"%d entities lost their mandatory parent and were removed", len(lost)).
		WithSubcategory(storeerror.SubcategoryRefLostParent).
		WithContext(logger.FieldRemoved, names)
	m.fail(m.b.reports.report("Entities removed after replace-by-source", se, m.b.reports.attachStorage("replace_with", m.rw)))
}
