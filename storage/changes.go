package storage

import (
	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/changelog"
)

// ChangeKind classifies a collected change.
type ChangeKind uint8

const (
	ChangeRemoved ChangeKind = iota + 1
	ChangeReplaced
	ChangeAdded
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRemoved:
		return "removed"
	case ChangeReplaced:
		return "replaced"
	case ChangeAdded:
		return "added"
	default:
		return "unknown"
	}
}

// EntityChange is one entity-level change. Old is nil for additions and New
// is nil for removals.
type EntityChange struct {
	Kind ChangeKind
	ID   entity.EntityID
	Old  entity.Data
	New  entity.Data
}

// CollectChanges turns the change log into per-type change lists. Old
// values are read from baseline, the state the builder started from. Each
// list holds removals first, then replacements, then additions.
func (b *Builder) CollectChanges(baseline Reader) map[entity.TypeID][]EntityChange {
	type buckets struct{ removed, replaced, added []EntityChange }
	byType := map[entity.TypeID]*buckets{}
	bucket := func(t entity.TypeID) *buckets {
		if bk, ok := byType[t]; ok {
			return bk
		}
		bk := &buckets{}
		byType[t] = bk
		return bk
	}
	old := func(id entity.EntityID) entity.Data {
		if baseline == nil {
			return nil
		}
		return baseline.Get(id)
	}

	for id, ch := range b.changes.All() {
		bk := bucket(id.Type())
		switch ch.Primary.Kind {
		case changelog.KindAdd:
			bk.added = append(bk.added, EntityChange{Kind: ChangeAdded, ID: id, New: b.entities.Get(id)})
		case changelog.KindRemove:
			prev := old(id)
			if prev == nil {
				prev = ch.Primary.Data
			}
			bk.removed = append(bk.removed, EntityChange{Kind: ChangeRemoved, ID: id, Old: prev})
		case changelog.KindReplace, changelog.KindChangeSource:
			bk.replaced = append(bk.replaced, EntityChange{Kind: ChangeReplaced, ID: id, Old: old(id), New: b.entities.Get(id)})
		default:
			panic("storage: unknown change kind " + ch.Primary.Kind.String())
		}
	}

	out := make(map[entity.TypeID][]EntityChange, len(byType))
	for t, bk := range byType {
		list := make([]EntityChange, 0, len(bk.removed)+len(bk.replaced)+len(bk.added))
		list = append(list, bk.removed...)
		list = append(list, bk.replaced...)
		list = append(list, bk.added...)
		out[t] = list
	}
	return out
}
