package family

import (
	"iter"

	"github.com/teranos/entitystore/entity"
)

// BarrelReader is the read side shared by Barrel and MutableBarrel.
type BarrelReader interface {
	Get(id entity.EntityID) entity.Data
	Family(t entity.TypeID) Reader
	// Types lists the types whose family holds at least one entity.
	Types() []entity.TypeID
	Entities(t entity.TypeID) iter.Seq[entity.Data]
}

// Barrel holds one frozen family per type, indexed by TypeID.
type Barrel struct {
	families []*Family
}

// Get returns the entity with id, or nil.
func (b *Barrel) Get(id entity.EntityID) entity.Data {
	return b.family(id.Type()).Get(id.Slot())
}

// Family returns the family of t. It is never nil.
func (b *Barrel) Family(t entity.TypeID) Reader {
	return b.family(t)
}

// Frozen returns the frozen family of t, nil when the type has none.
func (b *Barrel) Frozen(t entity.TypeID) *Family {
	return b.family(t)
}

// Types implements BarrelReader.
func (b *Barrel) Types() []entity.TypeID {
	var out []entity.TypeID
	for t, f := range b.families {
		if f.Count() > 0 {
			out = append(out, entity.TypeID(t))
		}
	}
	return out
}

// Entities implements BarrelReader.
func (b *Barrel) Entities(t entity.TypeID) iter.Seq[entity.Data] {
	return b.family(t).All()
}

// Thaw returns a mutable barrel sharing every family with b. Families are
// thawed one by one on their first write.
func (b *Barrel) Thaw() *MutableBarrel {
	m := &MutableBarrel{}
	if b != nil {
		m.frozen = append([]*Family(nil), b.families...)
	}
	return m
}

func (b *Barrel) family(t entity.TypeID) *Family {
	if b == nil || t < 0 || int(t) >= len(b.families) {
		return nil
	}
	return b.families[t]
}

// MutableBarrel is the thawed barrel of a builder.
type MutableBarrel struct {
	frozen  []*Family
	mutable []*MutableFamily
}

// NewMutableBarrel returns an empty mutable barrel.
func NewMutableBarrel() *MutableBarrel {
	return &MutableBarrel{}
}

// Get returns the entity with id, or nil.
func (m *MutableBarrel) Get(id entity.EntityID) entity.Data {
	return m.Family(id.Type()).Get(id.Slot())
}

// Family returns the current family of t, mutable when already thawed.
func (m *MutableBarrel) Family(t entity.TypeID) Reader {
	if t >= 0 && int(t) < len(m.mutable) && m.mutable[t] != nil {
		return m.mutable[t]
	}
	if t >= 0 && int(t) < len(m.frozen) {
		return m.frozen[t]
	}
	return (*Family)(nil)
}

// Types implements BarrelReader.
func (m *MutableBarrel) Types() []entity.TypeID {
	var out []entity.TypeID
	for t := 0; t < max(len(m.frozen), len(m.mutable)); t++ {
		if m.Family(entity.TypeID(t)).Count() > 0 {
			out = append(out, entity.TypeID(t))
		}
	}
	return out
}

// Entities implements BarrelReader.
func (m *MutableBarrel) Entities(t entity.TypeID) iter.Seq[entity.Data] {
	return m.Family(t).All()
}

// Mutable returns the thawed family of t, thawing it when needed.
func (m *MutableBarrel) Mutable(t entity.TypeID) *MutableFamily {
	if t < 0 {
		panic("family: negative type id")
	}
	for int(t) >= len(m.mutable) {
		m.mutable = append(m.mutable, nil)
	}
	if m.mutable[t] == nil {
		var origin *Family
		if int(t) < len(m.frozen) {
			origin = m.frozen[t]
		}
		m.mutable[t] = origin.Thaw()
	}
	return m.mutable[t]
}

// Add stores d in the family of t and returns its id.
func (m *MutableBarrel) Add(t entity.TypeID, d entity.Data) entity.EntityID {
	return entity.NewEntityID(m.Mutable(t).Add(d), t)
}

// Book reserves an id of type t.
func (m *MutableBarrel) Book(t entity.TypeID) entity.EntityID {
	return entity.NewEntityID(m.Mutable(t).Book(), t)
}

// IsBooked reports whether id is reserved and not yet filled.
func (m *MutableBarrel) IsBooked(id entity.EntityID) bool {
	t := id.Type()
	if int(t) >= len(m.mutable) || m.mutable[t] == nil {
		return false
	}
	return m.mutable[t].IsBooked(id.Slot())
}

// Fill stores d under a booked id.
func (m *MutableBarrel) Fill(id entity.EntityID, d entity.Data) {
	m.Mutable(id.Type()).Fill(id.Slot(), d)
}

// Release gives a booked id back.
func (m *MutableBarrel) Release(id entity.EntityID) {
	m.Mutable(id.Type()).Release(id.Slot())
}

// Remove deletes the entity with id. It reports false when nothing was
// stored there.
func (m *MutableBarrel) Remove(id entity.EntityID) bool {
	if m.Get(id) == nil {
		return false
	}
	return m.Mutable(id.Type()).Remove(id.Slot())
}

// Replace stores d under id.
func (m *MutableBarrel) Replace(id entity.EntityID, d entity.Data) {
	d.SetSlot(id.Slot())
	m.Mutable(id.Type()).Replace(d)
}

// GetForModification returns a transaction-private copy of the entity.
func (m *MutableBarrel) GetForModification(id entity.EntityID) entity.Data {
	if m.Get(id) == nil {
		return nil
	}
	return m.Mutable(id.Type()).GetForModification(id.Slot())
}

// Unpark makes the slots freed in every thawed family reusable.
func (m *MutableBarrel) Unpark() {
	for _, mf := range m.mutable {
		if mf != nil {
			mf.Unpark()
		}
	}
}

// Freeze publishes the current state as a Barrel. Untouched families are
// shared with the previous one.
func (m *MutableBarrel) Freeze() *Barrel {
	n := max(len(m.frozen), len(m.mutable))
	out := make([]*Family, n)
	copy(out, m.frozen)
	for t, mf := range m.mutable {
		if mf != nil {
			out[t] = mf.Freeze()
		}
	}
	m.frozen = out
	return &Barrel{families: out}
}
