package storage

import (
	"strconv"

	"github.com/teranos/entitystore/digest"
	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/storeerror"
)

// TargetKind is what the tree engine decided for a matched target entity.
type TargetKind uint8

const (
	TargetNoChange TargetKind = iota + 1
	TargetRelabel
	TargetRemove
)

func (k TargetKind) String() string {
	switch k {
	case TargetNoChange:
		return "no_change"
	case TargetRelabel:
		return "relabel"
	case TargetRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ReplaceWithKind is what the tree engine decided for a matched replaceWith
// entity.
type ReplaceWithKind uint8

const (
	ReplaceWithNoChange ReplaceWithKind = iota + 1
	ReplaceWithRelabel
	ReplaceWithAdd
)

func (k ReplaceWithKind) String() string {
	switch k {
	case ReplaceWithNoChange:
		return "no_change"
	case ReplaceWithRelabel:
		return "relabel"
	case ReplaceWithAdd:
		return "add"
	default:
		return "unknown"
	}
}

// TargetState is the decision for one target entity. Counterpart is the
// paired replaceWith entity, unset for removals.
type TargetState struct {
	Kind        TargetKind
	Key         string
	Counterpart entity.EntityID
}

// ReplaceWithState is the decision for one replaceWith entity. Target is the
// target id it ends up under.
type ReplaceWithState struct {
	Kind   ReplaceWithKind
	Key    string
	Target entity.EntityID
}

// TreeReport lists the per-entity decisions of ReplaceBySourceAsTree.
type TreeReport struct {
	Target      map[entity.EntityID]TargetState
	ReplaceWith map[entity.EntityID]ReplaceWithState
}

// maxTreeHops is how far a matched entity may be from its root.
const maxTreeHops = 2

// ReplaceBySourceAsTree is the tree engine of replace-by-source. Matched
// entities on both sides must have at most one parent and reach a root
// within two hops; they are keyed by symbolic id or by parent key,
// connection and content hash. Other shapes fail with ErrUnsupported before
// anything is changed.
func (b *Builder) ReplaceBySourceAsTree(filter func(entity.Source) bool, replaceWith Reader) (*TreeReport, error) {
	defer b.guard.enter("ReplaceBySourceAsTree")()
	m := b.newRBSMerge(filter, replaceWith)
	targets := b.EntitiesBySource(filter)
	rws := replaceWith.EntitiesBySource(filter)
	for _, id := range targets {
		if err := checkTreeShape(b, id); err != nil {
			return nil, err
		}
	}
	for _, id := range rws {
		if err := checkTreeShape(replaceWith, id); err != nil {
			return nil, err
		}
	}

	tkeys := treeKeys(b, targets)
	wkeys := treeKeys(replaceWith, rws)
	byKey := make(map[string]entity.EntityID, len(targets))
	for _, t := range targets {
		byKey[tkeys[t]] = t
	}
	report := &TreeReport{
		Target:      map[entity.EntityID]TargetState{},
		ReplaceWith: map[entity.EntityID]ReplaceWithState{},
	}
	var plan rbsPlan
	for _, w := range rws {
		key := wkeys[w]
		t, ok := byKey[key]
		if !ok {
			plan.adds = append(plan.adds, w)
			report.ReplaceWith[w] = ReplaceWithState{Kind: ReplaceWithAdd, Key: key}
			continue
		}
		delete(byKey, key)
		plan.pairs = append(plan.pairs, rbsPair{w: w, t: t})
		if b.Get(t).Equal(replaceWith.Get(w)) {
			report.Target[t] = TargetState{Kind: TargetNoChange, Key: key, Counterpart: w}
			report.ReplaceWith[w] = ReplaceWithState{Kind: ReplaceWithNoChange, Key: key, Target: t}
		} else {
			report.Target[t] = TargetState{Kind: TargetRelabel, Key: key, Counterpart: w}
			report.ReplaceWith[w] = ReplaceWithState{Kind: ReplaceWithRelabel, Key: key, Target: t}
		}
	}
	for _, t := range targets {
		if _, ok := report.Target[t]; !ok {
			plan.removes = append(plan.removes, t)
			report.Target[t] = TargetState{Kind: TargetRemove, Key: tkeys[t]}
		}
	}

	err := m.run("replace_by_source_tree", plan)
	for w, st := range report.ReplaceWith {
		if st.Kind == ReplaceWithAdd {
			st.Target = m.remap[w]
			report.ReplaceWith[w] = st
		}
	}
	return report, err
}

// checkTreeShape verifies that id has at most one parent and reaches a root
// within maxTreeHops.
func checkTreeShape(r Reader, id entity.EntityID) error {
	cur := id
	for hop := 0; ; hop++ {
		parents := r.ParentsOf(cur)
		if len(parents) == 0 {
			return nil
		}
		if len(parents) > 1 || hop == maxTreeHops {
			return storeerror.New(storeerror.CategoryUnsupported,
				errors.NewUnsupportedError("%s is not in a tree of depth %d", id, maxTreeHops)).
				WithSubcategory(storeerror.SubcategoryUnsupportedShape).
				WithContext(logger.FieldEntityID, id.String())
		}
		for _, p := range parents {
			cur = p
		}
	}
}

// treeKeys computes the tree key of every id. Equal keys within one side
// are numbered in id order.
func treeKeys(r Reader, ids []entity.EntityID) map[entity.EntityID]string {
	memo := map[entity.EntityID]string{}
	seen := map[string]int{}
	out := make(map[entity.EntityID]string, len(ids))
	for _, id := range ids {
		key := treeKey(r, id, memo)
		if n := seen[key]; n > 0 {
			out[id] = key + "#" + strconv.Itoa(n)
		} else {
			out[id] = key
		}
		seen[key]++
	}
	return out
}

func treeKey(r Reader, id entity.EntityID, memo map[entity.EntityID]string) string {
	if k, ok := memo[id]; ok {
		return k
	}
	reg := r.Registry()
	d := r.Get(id)
	var key string
	if sym := entity.SymbolicIDOf(d); sym != nil {
		key = reg.Name(id.Type()) + "=" + sym.String()
	} else {
		prefix := "/"
		for conn, p := range r.ParentsOf(id) {
			prefix = treeKey(r, p, memo) + " " + reg.Describe(conn) + " "
		}
		key = prefix + digest.HexHash(digest.ContentHash(d))
	}
	memo[id] = key
	return key
}
