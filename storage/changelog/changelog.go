// Package changelog records what a builder changed, one coalesced Change per
// entity.
package changelog

import (
	"iter"
	"maps"

	"go.uber.org/zap"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/logger"
)

// Kind is the kind of a recorded entry.
type Kind uint8

const (
	KindAdd Kind = iota + 1
	KindRemove
	KindReplace
	KindChangeSource
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindReplace:
		return "replace"
	case KindChangeSource:
		return "change_source"
	default:
		return "unknown"
	}
}

// ChildRef is one child of an entity over one connection.
type ChildRef struct {
	Conn  *entity.ConnectionID
	Child entity.EntityID
}

// ChildSet is a set of child references.
type ChildSet map[ChildRef]struct{}

// NewChildSet builds a set from refs.
func NewChildSet(refs ...ChildRef) ChildSet {
	s := make(ChildSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r is in s.
func (s ChildSet) Has(r ChildRef) bool {
	_, ok := s[r]
	return ok
}

func (s ChildSet) minus(o ChildSet) ChildSet {
	out := ChildSet{}
	for r := range s {
		if !o.Has(r) {
			out[r] = struct{}{}
		}
	}
	return out
}

func (s ChildSet) union(o ChildSet) ChildSet {
	out := maps.Clone(s)
	if out == nil {
		out = ChildSet{}
	}
	maps.Copy(out, o)
	return out
}

// ParentRef is the new parent of an entity over one connection. Removed is
// set when the entity lost its parent.
type ParentRef struct {
	Parent  entity.EntityID
	Removed bool
}

// Entry is one recorded event. Data is the entity after the event; for
// removals it is the removed entity as it was before the transaction when the
// log knows that state. Before is the entity ahead of a replace or a source
// change, nil when the caller did not know it.
type Entry struct {
	Kind            Kind
	Data            entity.Data
	Before          entity.Data
	AddedChildren   ChildSet
	RemovedChildren ChildSet
	ModifiedParents map[*entity.ConnectionID]ParentRef
}

// Change is the coalesced history of one entity. Source is set when a source
// change was folded into a replace.
type Change struct {
	Primary Entry
	Source  *Entry
}

// Log keeps one Change per entity in first-insertion order. It is not safe
// for concurrent use.
type Log struct {
	log     *zap.SugaredLogger
	changes map[entity.EntityID]*Change
	order   []entity.EntityID
	// pos is the index in order of the live change of an id; stale order
	// entries are skipped.
	pos    map[entity.EntityID]int
	events uint64
}

// New returns an empty log. A nil logger falls back to the storage component
// logger.
func New(log *zap.SugaredLogger) *Log {
	if log == nil {
		log = logger.ComponentLogger("storage.changelog")
	}
	return &Log{
		log:     log,
		changes: map[entity.EntityID]*Change{},
		pos:     map[entity.EntityID]int{},
	}
}

// Len returns the number of entities with a change.
func (l *Log) Len() int {
	return len(l.changes)
}

// ModificationCount returns the number of recorded events. It never
// decreases, not even on Clear.
func (l *Log) ModificationCount() uint64 {
	return l.events
}

// Get returns the change of id.
func (l *Log) Get(id entity.EntityID) (Change, bool) {
	c, ok := l.changes[id]
	if !ok {
		return Change{}, false
	}
	return *c, true
}

// All iterates over changes in the order entities were first recorded.
func (l *Log) All() iter.Seq2[entity.EntityID, Change] {
	return func(yield func(entity.EntityID, Change) bool) {
		for i, id := range l.order {
			if l.pos[id] != i {
				continue
			}
			c, ok := l.changes[id]
			if !ok {
				continue
			}
			if !yield(id, *c) {
				return
			}
		}
	}
}

// Clear drops every change and keeps the modification count.
func (l *Log) Clear() {
	clear(l.changes)
	clear(l.pos)
	l.order = l.order[:0]
}

// Add records that d was added under id.
func (l *Log) Add(id entity.EntityID, d entity.Data) {
	l.record(id, Entry{Kind: KindAdd, Data: d})
}

// Remove records that d was removed from id.
func (l *Log) Remove(id entity.EntityID, d entity.Data) {
	l.record(id, Entry{Kind: KindRemove, Data: d})
}

// Replace records a content or reference change. Nil sets are allowed.
func (l *Log) Replace(id entity.EntityID, e Entry) {
	e.Kind = KindReplace
	l.record(id, e)
}

// ChangeSource records that id moved from the source of before to the source
// of d. before may be nil.
func (l *Log) ChangeSource(id entity.EntityID, before, d entity.Data) {
	l.record(id, Entry{Kind: KindChangeSource, Data: d, Before: before})
}

func (l *Log) record(id entity.EntityID, next Entry) {
	l.events++
	cur, ok := l.changes[id]
	if !ok {
		l.put(id, &Change{Primary: normalize(next)})
		return
	}

	switch cur.Primary.Kind {
	case KindAdd:
		switch next.Kind {
		case KindAdd:
			l.conflict(id, cur.Primary.Kind, next.Kind)
		case KindReplace, KindChangeSource:
			if next.Data != nil {
				cur.Primary.Data = next.Data
			}
		case KindRemove:
			l.drop(id)
		}
	case KindReplace:
		switch next.Kind {
		case KindAdd:
			l.conflict(id, cur.Primary.Kind, next.Kind)
		case KindReplace:
			cur.Primary = mergeReplace(cur.Primary, normalize(next))
		case KindChangeSource:
			cur.Source = &next
		case KindRemove:
			*cur = Change{Primary: Entry{Kind: KindRemove, Data: cur.original(next.Data)}}
		}
	case KindChangeSource:
		switch next.Kind {
		case KindAdd:
			l.conflict(id, cur.Primary.Kind, next.Kind)
		case KindReplace:
			source := cur.Primary
			primary := normalize(next)
			primary.Before = earliest(source.Before, next.Before)
			*cur = Change{Primary: primary, Source: &source}
		case KindChangeSource:
			next.Before = earliest(cur.Primary.Before, next.Before)
			cur.Primary = next
		case KindRemove:
			*cur = Change{Primary: Entry{Kind: KindRemove, Data: cur.original(next.Data)}}
		}
	case KindRemove:
		switch next.Kind {
		case KindAdd:
			*cur = Change{Primary: normalize(Entry{Kind: KindReplace, Data: next.Data, Before: cur.Primary.Data})}
		default:
			l.conflict(id, cur.Primary.Kind, next.Kind)
		}
	}
}

// original returns the entity as it was before the transaction, or fallback
// when no recorded entry knew it.
func (c *Change) original(fallback entity.Data) entity.Data {
	if c.Primary.Before != nil {
		return c.Primary.Before
	}
	if c.Source != nil && c.Source.Before != nil {
		return c.Source.Before
	}
	return fallback
}

func earliest(cur, next entity.Data) entity.Data {
	if cur != nil {
		return cur
	}
	return next
}

func (l *Log) conflict(id entity.EntityID, existing, next Kind) {
	l.log.Errorw("Change log conflict, keeping existing entry",
		logger.FieldEntityID, id.String(),
		"existing", existing.String(),
		"new", next.String())
}

func (l *Log) put(id entity.EntityID, c *Change) {
	l.changes[id] = c
	l.pos[id] = len(l.order)
	l.order = append(l.order, id)
}

func (l *Log) drop(id entity.EntityID) {
	delete(l.changes, id)
	delete(l.pos, id)
}

func normalize(e Entry) Entry {
	if e.Kind != KindReplace {
		return e
	}
	if e.AddedChildren == nil {
		e.AddedChildren = ChildSet{}
	}
	if e.RemovedChildren == nil {
		e.RemovedChildren = ChildSet{}
	}
	if e.ModifiedParents == nil {
		e.ModifiedParents = map[*entity.ConnectionID]ParentRef{}
	}
	return e
}

// mergeReplace folds next into cur: children added then removed cancel out,
// later parent changes win.
func mergeReplace(cur, next Entry) Entry {
	parents := maps.Clone(cur.ModifiedParents)
	maps.Copy(parents, next.ModifiedParents)
	data := next.Data
	if data == nil {
		data = cur.Data
	}
	return Entry{
		Kind:            KindReplace,
		Data:            data,
		Before:          earliest(cur.Before, next.Before),
		AddedChildren:   cur.AddedChildren.minus(next.RemovedChildren).union(next.AddedChildren.minus(cur.RemovedChildren)),
		RemovedChildren: cur.RemovedChildren.minus(next.AddedChildren).union(next.RemovedChildren.minus(cur.AddedChildren)),
		ModifiedParents: parents,
	}
}
