package refs

import (
	"maps"
	"slices"

	"github.com/teranos/entitystore/entity"
)

// codec converts between entity ids and the key a container stores. Concrete
// sides store slots; abstract sides store the full id.
type codec[K comparable] struct {
	enc func(entity.EntityID) (K, bool)
	dec func(K) entity.EntityID
}

func slotCodec(t entity.TypeID) codec[int] {
	return codec[int]{
		enc: func(id entity.EntityID) (int, bool) { return id.Slot(), id.Type() == t },
		dec: func(slot int) entity.EntityID { return entity.NewEntityID(slot, t) },
	}
}

func idCodec() codec[entity.EntityID] {
	return codec[entity.EntityID]{
		enc: func(id entity.EntityID) (entity.EntityID, bool) { return id, true },
		dec: func(id entity.EntityID) entity.EntityID { return id },
	}
}

// container is one relation. Every mutation returns the children that lost
// their parent through it, so the caller can cascade.
type container interface {
	parent(child entity.EntityID) (entity.EntityID, bool)
	children(parent entity.EntityID) []entity.EntityID
	setChildren(parent entity.EntityID, children []entity.EntityID) []entity.EntityID
	addChild(parent, child entity.EntityID) []entity.EntityID
	removeRef(parent, child entity.EntityID) bool
	removeParent(child entity.EntityID) (entity.EntityID, bool)
	removeChildren(parent entity.EntityID) []entity.EntityID
	parents() []entity.EntityID
	size() int
	clone() container
}

func newContainer(conn *entity.ConnectionID) container {
	switch conn.Kind {
	case entity.OneToMany:
		return newMultimap(slotCodec(conn.Parent), slotCodec(conn.Child))
	case entity.OneToAbstractMany:
		return newMultimap(slotCodec(conn.Parent), idCodec())
	case entity.OneToOne:
		return newBimap(slotCodec(conn.Parent), slotCodec(conn.Child))
	case entity.AbstractOneToOne:
		return newBimap(idCodec(), idCodec())
	default:
		panic("refs: invalid connection kind " + conn.Kind.String())
	}
}

// multimap keeps ordered children per parent. Child slices are never
// modified in place, so clones share them.
type multimap[P, C comparable] struct {
	pc         codec[P]
	cc         codec[C]
	parentOf   map[C]P
	childrenOf map[P][]C
}

func newMultimap[P, C comparable](pc codec[P], cc codec[C]) *multimap[P, C] {
	return &multimap[P, C]{pc: pc, cc: cc, parentOf: map[C]P{}, childrenOf: map[P][]C{}}
}

func (m *multimap[P, C]) parent(child entity.EntityID) (entity.EntityID, bool) {
	c, ok := m.cc.enc(child)
	if !ok {
		return 0, false
	}
	p, ok := m.parentOf[c]
	if !ok {
		return 0, false
	}
	return m.pc.dec(p), true
}

func (m *multimap[P, C]) children(parent entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	list := m.childrenOf[p]
	if len(list) == 0 {
		return nil
	}
	out := make([]entity.EntityID, len(list))
	for i, c := range list {
		out[i] = m.cc.dec(c)
	}
	return out
}

func (m *multimap[P, C]) setChildren(parent entity.EntityID, children []entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	keep := make(map[C]struct{}, len(children))
	list := make([]C, 0, len(children))
	for _, child := range children {
		c, ok := m.cc.enc(child)
		if !ok {
			continue
		}
		if _, dup := keep[c]; dup {
			continue
		}
		keep[c] = struct{}{}
		list = append(list, c)
	}

	var detached []entity.EntityID
	for _, c := range m.childrenOf[p] {
		if _, ok := keep[c]; !ok {
			delete(m.parentOf, c)
			detached = append(detached, m.cc.dec(c))
		}
	}
	for _, c := range list {
		if old, ok := m.parentOf[c]; ok && old != p {
			m.drop(old, c)
		}
		m.parentOf[c] = p
	}
	if len(list) == 0 {
		delete(m.childrenOf, p)
	} else {
		m.childrenOf[p] = list
	}
	return detached
}

func (m *multimap[P, C]) addChild(parent, child entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	c, ok := m.cc.enc(child)
	if !ok {
		return nil
	}
	if old, ok := m.parentOf[c]; ok {
		if old == p {
			return nil
		}
		m.drop(old, c)
	}
	m.parentOf[c] = p
	m.childrenOf[p] = append(slices.Clip(m.childrenOf[p]), c)
	return nil
}

func (m *multimap[P, C]) removeRef(parent, child entity.EntityID) bool {
	p, ok := m.pc.enc(parent)
	if !ok {
		return false
	}
	c, ok := m.cc.enc(child)
	if !ok {
		return false
	}
	if old, ok := m.parentOf[c]; !ok || old != p {
		return false
	}
	delete(m.parentOf, c)
	m.drop(p, c)
	return true
}

func (m *multimap[P, C]) removeParent(child entity.EntityID) (entity.EntityID, bool) {
	c, ok := m.cc.enc(child)
	if !ok {
		return 0, false
	}
	p, ok := m.parentOf[c]
	if !ok {
		return 0, false
	}
	delete(m.parentOf, c)
	m.drop(p, c)
	return m.pc.dec(p), true
}

func (m *multimap[P, C]) removeChildren(parent entity.EntityID) []entity.EntityID {
	return m.setChildren(parent, nil)
}

func (m *multimap[P, C]) parents() []entity.EntityID {
	out := make([]entity.EntityID, 0, len(m.childrenOf))
	for p := range m.childrenOf {
		out = append(out, m.pc.dec(p))
	}
	slices.Sort(out)
	return out
}

func (m *multimap[P, C]) size() int {
	return len(m.parentOf)
}

func (m *multimap[P, C]) clone() container {
	return &multimap[P, C]{
		pc:         m.pc,
		cc:         m.cc,
		parentOf:   maps.Clone(m.parentOf),
		childrenOf: maps.Clone(m.childrenOf),
	}
}

// drop removes c from the child list of p without touching parentOf.
func (m *multimap[P, C]) drop(p P, c C) {
	list := m.childrenOf[p]
	i := slices.Index(list, c)
	if i < 0 {
		return
	}
	if len(list) == 1 {
		delete(m.childrenOf, p)
		return
	}
	m.childrenOf[p] = slices.Concat(list[:i], list[i+1:])
}

// bimap is a one-to-one relation.
type bimap[P, C comparable] struct {
	pc       codec[P]
	cc       codec[C]
	parentOf map[C]P
	childOf  map[P]C
}

func newBimap[P, C comparable](pc codec[P], cc codec[C]) *bimap[P, C] {
	return &bimap[P, C]{pc: pc, cc: cc, parentOf: map[C]P{}, childOf: map[P]C{}}
}

func (m *bimap[P, C]) parent(child entity.EntityID) (entity.EntityID, bool) {
	c, ok := m.cc.enc(child)
	if !ok {
		return 0, false
	}
	p, ok := m.parentOf[c]
	if !ok {
		return 0, false
	}
	return m.pc.dec(p), true
}

func (m *bimap[P, C]) children(parent entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	c, ok := m.childOf[p]
	if !ok {
		return nil
	}
	return []entity.EntityID{m.cc.dec(c)}
}

func (m *bimap[P, C]) setChildren(parent entity.EntityID, children []entity.EntityID) []entity.EntityID {
	if len(children) > 1 {
		panic("refs: more than one child on a one-to-one connection")
	}
	if len(children) == 0 {
		return m.removeChildren(parent)
	}
	return m.addChild(parent, children[0])
}

func (m *bimap[P, C]) addChild(parent, child entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	c, ok := m.cc.enc(child)
	if !ok {
		return nil
	}
	var detached []entity.EntityID
	if old, ok := m.childOf[p]; ok {
		if old == c {
			return nil
		}
		delete(m.parentOf, old)
		detached = append(detached, m.cc.dec(old))
	}
	if old, ok := m.parentOf[c]; ok {
		delete(m.childOf, old)
	}
	m.parentOf[c] = p
	m.childOf[p] = c
	return detached
}

func (m *bimap[P, C]) removeRef(parent, child entity.EntityID) bool {
	p, ok := m.pc.enc(parent)
	if !ok {
		return false
	}
	c, ok := m.cc.enc(child)
	if !ok {
		return false
	}
	if cur, ok := m.childOf[p]; !ok || cur != c {
		return false
	}
	delete(m.childOf, p)
	delete(m.parentOf, c)
	return true
}

func (m *bimap[P, C]) removeParent(child entity.EntityID) (entity.EntityID, bool) {
	c, ok := m.cc.enc(child)
	if !ok {
		return 0, false
	}
	p, ok := m.parentOf[c]
	if !ok {
		return 0, false
	}
	delete(m.parentOf, c)
	delete(m.childOf, p)
	return m.pc.dec(p), true
}

func (m *bimap[P, C]) removeChildren(parent entity.EntityID) []entity.EntityID {
	p, ok := m.pc.enc(parent)
	if !ok {
		return nil
	}
	c, ok := m.childOf[p]
	if !ok {
		return nil
	}
	delete(m.childOf, p)
	delete(m.parentOf, c)
	return []entity.EntityID{m.cc.dec(c)}
}

func (m *bimap[P, C]) parents() []entity.EntityID {
	out := make([]entity.EntityID, 0, len(m.childOf))
	for p := range m.childOf {
		out = append(out, m.pc.dec(p))
	}
	slices.Sort(out)
	return out
}

func (m *bimap[P, C]) size() int {
	return len(m.parentOf)
}

func (m *bimap[P, C]) clone() container {
	return &bimap[P, C]{
		pc:       m.pc,
		cc:       m.cc,
		parentOf: maps.Clone(m.parentOf),
		childOf:  maps.Clone(m.childOf),
	}
}
