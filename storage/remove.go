package storage

import (
	"github.com/teranos/entitystore/entity"
)

// removeCascade removes id and every entity that cannot live without it. The
// removal set is collected first, then every ref of the set is broken, then
// the entities are removed and logged. It returns the removed ids.
func (b *Builder) removeCascade(tr *refTracker, id entity.EntityID) []entity.EntityID {
	var order []entity.EntityID
	seen := map[entity.EntityID]struct{}{}
	stack := []entity.EntityID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		if b.entities.Get(cur) == nil {
			continue
		}
		seen[cur] = struct{}{}
		order = append(order, cur)
		kids := b.refs.ChildrenOf(cur)
		for _, conn := range sortedConns(kids) {
			if conn.CanRemoveParent() {
				continue
			}
			for i := len(kids[conn]) - 1; i >= 0; i-- {
				stack = append(stack, kids[conn][i])
			}
		}
	}

	for _, cur := range order {
		tr.touch(cur)
		parents := b.refs.ParentsOf(cur)
		for _, conn := range sortedConns(parents) {
			tr.touch(parents[conn])
			b.refs.RemoveParent(conn, cur)
		}
		kids := b.refs.ChildrenOf(cur)
		for _, conn := range sortedConns(kids) {
			for _, k := range kids[conn] {
				tr.touch(k)
			}
			b.refs.RemoveChildren(conn, cur)
		}
	}

	for _, cur := range order {
		d := b.entities.Get(cur)
		b.indexes.RemoveEntity(cur)
		b.entities.Remove(cur)
		b.changes.Remove(cur, d)
	}
	return order
}
