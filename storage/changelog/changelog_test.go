package changelog

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/entitystore/entity"
)

type rec struct {
	entity.Base
	V string
}

func (r *rec) EntityType() string { return "rec" }

func (r *rec) Clone() entity.Data {
	c := *r
	return &c
}

func (r *rec) Equal(o entity.Data) bool {
	other, ok := o.(*rec)
	return ok && *other == *r
}

func (r *rec) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*rec)
	return ok && other.V == r.V
}

func (r *rec) HashContent(w io.Writer) { _, _ = io.WriteString(w, r.V) }

func newLog(t *testing.T) (*Log, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.ErrorLevel)
	return New(zap.New(core).Sugar()), logs
}

var (
	id1  = entity.NewEntityID(1, 0)
	id2  = entity.NewEntityID(2, 0)
	conn = &entity.ConnectionID{Parent: 0, Child: 1, Kind: entity.OneToMany}
)

func child(slot int) ChildRef {
	return ChildRef{Conn: conn, Child: entity.NewEntityID(slot, 1)}
}

func TestCoalescing(t *testing.T) {
	a := &rec{V: "a"}
	b := &rec{V: "b"}

	tests := []struct {
		name    string
		record  func(l *Log)
		present bool
		kind    Kind
		data    entity.Data
		source  bool
		errors  int
	}{
		{"add", func(l *Log) { l.Add(id1, a) }, true, KindAdd, a, false, 0},
		{"add then add", func(l *Log) { l.Add(id1, a); l.Add(id1, b) }, true, KindAdd, a, false, 1},
		{"add then replace", func(l *Log) { l.Add(id1, a); l.Replace(id1, Entry{Data: b}) }, true, KindAdd, b, false, 0},
		{"add then change source", func(l *Log) { l.Add(id1, a); l.ChangeSource(id1, nil, b) }, true, KindAdd, b, false, 0},
		{"add then remove", func(l *Log) { l.Add(id1, a); l.Remove(id1, a) }, false, 0, nil, false, 0},
		{"replace then add", func(l *Log) { l.Replace(id1, Entry{Data: a}); l.Add(id1, b) }, true, KindReplace, a, false, 1},
		{"replace then change source", func(l *Log) { l.Replace(id1, Entry{Data: a}); l.ChangeSource(id1, nil, b) }, true, KindReplace, a, true, 0},
		{"replace then remove", func(l *Log) { l.Replace(id1, Entry{Data: a}); l.Remove(id1, b) }, true, KindRemove, b, false, 0},
		{"change source then add", func(l *Log) { l.ChangeSource(id1, nil, a); l.Add(id1, b) }, true, KindChangeSource, a, false, 1},
		{"change source then replace", func(l *Log) { l.ChangeSource(id1, nil, a); l.Replace(id1, Entry{Data: b}) }, true, KindReplace, b, true, 0},
		{"change source twice", func(l *Log) { l.ChangeSource(id1, nil, a); l.ChangeSource(id1, nil, b) }, true, KindChangeSource, b, false, 0},
		{"change source then remove", func(l *Log) { l.ChangeSource(id1, nil, a); l.Remove(id1, b) }, true, KindRemove, b, false, 0},
		{"remove then add", func(l *Log) { l.Remove(id1, a); l.Add(id1, b) }, true, KindReplace, b, false, 0},
		{"remove then replace", func(l *Log) { l.Remove(id1, a); l.Replace(id1, Entry{Data: b}) }, true, KindRemove, a, false, 1},
		{"remove then change source", func(l *Log) { l.Remove(id1, a); l.ChangeSource(id1, nil, b) }, true, KindRemove, a, false, 1},
		{"remove twice", func(l *Log) { l.Remove(id1, a); l.Remove(id1, b) }, true, KindRemove, a, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newLog(t)
			tt.record(l)
			assert.Equal(t, tt.errors, logs.Len())

			c, ok := l.Get(id1)
			require.Equal(t, tt.present, ok)
			if !ok {
				assert.Equal(t, 0, l.Len())
				return
			}
			assert.Equal(t, tt.kind, c.Primary.Kind)
			assert.Same(t, tt.data, c.Primary.Data)
			assert.Equal(t, tt.source, c.Source != nil)
		})
	}
}

func TestReplaceMerge(t *testing.T) {
	l, _ := newLog(t)
	p1 := entity.NewEntityID(7, 0)
	p2 := entity.NewEntityID(8, 0)
	l.Replace(id1, Entry{
		Data:            &rec{V: "a"},
		AddedChildren:   NewChildSet(child(1), child(2)),
		RemovedChildren: NewChildSet(child(3)),
		ModifiedParents: map[*entity.ConnectionID]ParentRef{conn: {Parent: p1}},
	})
	l.Replace(id1, Entry{
		Data:            &rec{V: "b"},
		AddedChildren:   NewChildSet(child(3), child(4)),
		RemovedChildren: NewChildSet(child(1), child(5)),
		ModifiedParents: map[*entity.ConnectionID]ParentRef{conn: {Parent: p2}},
	})

	c, ok := l.Get(id1)
	require.True(t, ok)
	assert.Equal(t, NewChildSet(child(2), child(4)), c.Primary.AddedChildren)
	assert.Equal(t, NewChildSet(child(5)), c.Primary.RemovedChildren)
	assert.Equal(t, ParentRef{Parent: p2}, c.Primary.ModifiedParents[conn])
	assert.Equal(t, "b", c.Primary.Data.(*rec).V)
}

func TestRemove_ReportsStateBeforeTransaction(t *testing.T) {
	orig := &rec{V: "orig"}
	edited := &rec{V: "edited"}
	moved := &rec{V: "edited"}
	moved.SetSource(entity.SourceName("b"))

	tests := []struct {
		name   string
		record func(l *Log)
	}{
		{"replace then remove", func(l *Log) {
			l.Replace(id1, Entry{Data: edited, Before: orig})
			l.Remove(id1, edited)
		}},
		{"refs then content then remove", func(l *Log) {
			l.Replace(id1, Entry{Data: orig, AddedChildren: NewChildSet(child(1))})
			l.Replace(id1, Entry{Data: edited, Before: orig})
			l.Remove(id1, edited)
		}},
		{"change source then remove", func(l *Log) {
			l.ChangeSource(id1, orig, moved)
			l.Remove(id1, moved)
		}},
		{"change source then replace then remove", func(l *Log) {
			l.ChangeSource(id1, orig, moved)
			l.Replace(id1, Entry{Data: edited, Before: moved})
			l.Remove(id1, edited)
		}},
		{"replace then change source then remove", func(l *Log) {
			l.Replace(id1, Entry{Data: edited, Before: orig})
			l.ChangeSource(id1, edited, moved)
			l.Remove(id1, moved)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newLog(t)
			tt.record(l)
			assert.Zero(t, logs.Len())
			c, ok := l.Get(id1)
			require.True(t, ok)
			assert.Equal(t, KindRemove, c.Primary.Kind)
			assert.Same(t, orig, c.Primary.Data)
			assert.Nil(t, c.Source)
		})
	}
}

func TestReplaceMerge_KeepsEarliestBefore(t *testing.T) {
	l, _ := newLog(t)
	orig := &rec{V: "orig"}
	mid := &rec{V: "mid"}
	l.Replace(id1, Entry{AddedChildren: NewChildSet(child(1))})
	l.Replace(id1, Entry{Data: mid, Before: orig})
	l.Replace(id1, Entry{Data: &rec{V: "last"}, Before: mid})

	c, _ := l.Get(id1)
	assert.Same(t, orig, c.Primary.Before)
	assert.Equal(t, "last", c.Primary.Data.(*rec).V)
}

func TestReplaceMerge_KeepsDataWhenMissing(t *testing.T) {
	l, _ := newLog(t)
	a := &rec{V: "a"}
	l.Replace(id1, Entry{Data: a})
	l.Replace(id1, Entry{AddedChildren: NewChildSet(child(1))})

	c, _ := l.Get(id1)
	assert.Same(t, a, c.Primary.Data)
	assert.True(t, c.Primary.AddedChildren.Has(child(1)))
}

func TestModificationCount(t *testing.T) {
	l, _ := newLog(t)
	a := &rec{V: "a"}
	l.Add(id1, a)
	l.Remove(id1, a)
	l.Add(id2, a)
	assert.Equal(t, uint64(3), l.ModificationCount())
	assert.Equal(t, 1, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, uint64(3), l.ModificationCount())
}

func TestInsertionOrder(t *testing.T) {
	l, _ := newLog(t)
	a := &rec{V: "a"}
	id3 := entity.NewEntityID(3, 0)
	l.Add(id2, a)
	l.Add(id1, a)
	l.Add(id3, a)
	l.Remove(id2, a)
	l.Replace(id1, Entry{Data: a})
	l.Add(id2, a)

	var ids []entity.EntityID
	for id := range l.All() {
		ids = append(ids, id)
	}
	assert.Equal(t, []entity.EntityID{id1, id3, id2}, ids)
}
