// Package family stores the entities of one type in a slot arena.
//
// A Family is frozen and may be read by any number of goroutines. A
// MutableFamily is its thawed form, owned by one builder. Both keep
// family[i].Slot() == i for every occupied slot i.
package family

import (
	"iter"
	"slices"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/pvec"
)

// Reader is the read side shared by Family and MutableFamily.
type Reader interface {
	// Get returns the entity in slot, or nil when the slot is empty or out
	// of range.
	Get(slot int) entity.Data
	// Len is the arena size including empty slots.
	Len() int
	// Count is the number of occupied slots.
	Count() int
	// EmptySlots is the tracked number of empty slots.
	EmptySlots() int
	// All iterates over occupied slots in slot order.
	All() iter.Seq[entity.Data]
}

// Family is the frozen arena of one entity type.
type Family struct {
	entities *pvec.Vector[entity.Data]
	empty    int
}

// Get implements Reader.
func (f *Family) Get(slot int) entity.Data {
	if f == nil || slot < 0 || slot >= f.entities.Len() {
		return nil
	}
	return f.entities.Get(slot)
}

// Len implements Reader.
func (f *Family) Len() int {
	if f == nil {
		return 0
	}
	return f.entities.Len()
}

// Count implements Reader.
func (f *Family) Count() int {
	if f == nil {
		return 0
	}
	return f.entities.Len() - f.empty
}

// EmptySlots returns the tracked number of empty slots.
func (f *Family) EmptySlots() int {
	if f == nil {
		return 0
	}
	return f.empty
}

// All implements Reader.
func (f *Family) All() iter.Seq[entity.Data] {
	return func(yield func(entity.Data) bool) {
		if f == nil {
			return
		}
		for _, d := range f.entities.All() {
			if d != nil && !yield(d) {
				return
			}
		}
	}
}

// Thaw returns a mutable family sharing every entity with f. The free-slot
// stack is computed on the first allocation that needs it.
func (f *Family) Thaw() *MutableFamily {
	if f == nil {
		return NewMutable()
	}
	return &MutableFamily{
		entities: f.entities.Builder(),
		empty:    f.empty,
		copied:   map[int]struct{}{},
	}
}

// MutableFamily is the thawed arena of one entity type. It is not safe for
// concurrent use.
type MutableFamily struct {
	entities *pvec.Builder[entity.Data]
	empty    int

	// free is the stack of reusable slots, lowest slot on top. It is nil
	// until computed.
	free         []int
	freeComputed bool
	// parked holds slots freed since the last Unpark. A change log entry
	// may still name them, so they are not handed out until then.
	parked map[int]struct{}
	booked map[int]struct{}
	// copied holds slots whose entity is private to this transaction.
	copied map[int]struct{}
}

// NewMutable returns an empty mutable family.
func NewMutable() *MutableFamily {
	return &MutableFamily{
		entities:     pvec.New[entity.Data](),
		freeComputed: true,
		copied:       map[int]struct{}{},
	}
}

// Get implements Reader.
func (m *MutableFamily) Get(slot int) entity.Data {
	if slot < 0 || slot >= m.entities.Len() {
		return nil
	}
	return m.entities.Get(slot)
}

// Len implements Reader.
func (m *MutableFamily) Len() int {
	return m.entities.Len()
}

// Count implements Reader.
func (m *MutableFamily) Count() int {
	return m.entities.Len() - m.empty
}

// EmptySlots returns the tracked number of empty slots, booked ones included.
func (m *MutableFamily) EmptySlots() int {
	return m.empty
}

// All implements Reader.
func (m *MutableFamily) All() iter.Seq[entity.Data] {
	return func(yield func(entity.Data) bool) {
		for _, d := range m.entities.All() {
			if d != nil && !yield(d) {
				return
			}
		}
	}
}

// Add stores d in a free slot, sets d's slot and returns it. The family takes
// ownership of d.
func (m *MutableFamily) Add(d entity.Data) int {
	slot := m.allocate()
	m.put(slot, d)
	return slot
}

// Book reserves a slot that stays empty until Fill.
func (m *MutableFamily) Book() int {
	slot := m.allocate()
	if m.booked == nil {
		m.booked = map[int]struct{}{}
	}
	m.booked[slot] = struct{}{}
	return slot
}

// IsBooked reports whether slot is reserved and not yet filled.
func (m *MutableFamily) IsBooked(slot int) bool {
	_, ok := m.booked[slot]
	return ok
}

// Booked returns the booked slots in ascending order.
func (m *MutableFamily) Booked() []int {
	out := make([]int, 0, len(m.booked))
	for s := range m.booked {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Fill stores d in a booked slot.
func (m *MutableFamily) Fill(slot int, d entity.Data) {
	if !m.IsBooked(slot) {
		panic("family: fill of a slot that is not booked")
	}
	delete(m.booked, slot)
	m.put(slot, d)
}

// Release gives a booked slot back without filling it.
func (m *MutableFamily) Release(slot int) {
	if !m.IsBooked(slot) {
		return
	}
	delete(m.booked, slot)
	m.park(slot)
}

// Remove empties slot. It reports false when the slot held nothing.
func (m *MutableFamily) Remove(slot int) bool {
	if m.Get(slot) == nil {
		return false
	}
	m.entities.Set(slot, nil)
	m.empty++
	delete(m.copied, slot)
	m.park(slot)
	return true
}

// Replace stores d in the slot d already carries. The family takes ownership
// of d.
func (m *MutableFamily) Replace(d entity.Data) {
	slot := d.Slot()
	if m.Get(slot) == nil {
		panic("family: replace of an empty slot")
	}
	m.entities.Set(slot, d)
	m.copied[slot] = struct{}{}
}

// GetForModification returns an entity the caller may change in place. The
// stored entity is cloned at most once per transaction.
func (m *MutableFamily) GetForModification(slot int) entity.Data {
	d := m.Get(slot)
	if d == nil {
		return nil
	}
	if _, ok := m.copied[slot]; ok {
		return d
	}
	c := d.Clone()
	c.SetSlot(slot)
	m.entities.Set(slot, c)
	m.copied[slot] = struct{}{}
	return c
}

// Freeze publishes the current state. The mutable family stays usable and
// every entity is shared again. Parked slots stay parked.
func (m *MutableFamily) Freeze() *Family {
	f := &Family{entities: m.entities.Freeze(), empty: m.empty}
	m.copied = map[int]struct{}{}
	return f
}

// Unpark makes the parked slots reusable. Call it once no change log entry
// names them.
func (m *MutableFamily) Unpark() {
	if len(m.parked) == 0 {
		return
	}
	if m.freeComputed {
		for s := range m.parked {
			m.free = append(m.free, s)
		}
		// keep the lowest slot on top
		slices.SortFunc(m.free, func(a, b int) int { return b - a })
	}
	m.parked = nil
}

// Parked returns the parked slots in ascending order.
func (m *MutableFamily) Parked() []int {
	out := make([]int, 0, len(m.parked))
	for s := range m.parked {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (m *MutableFamily) put(slot int, d entity.Data) {
	d.SetSlot(slot)
	m.entities.Set(slot, d)
	m.empty--
	m.copied[slot] = struct{}{}
}

func (m *MutableFamily) park(slot int) {
	if m.parked == nil {
		m.parked = map[int]struct{}{}
	}
	m.parked[slot] = struct{}{}
}

// allocate returns an empty, unbooked slot, counted in empty.
func (m *MutableFamily) allocate() int {
	m.computeFree()
	if n := len(m.free); n > 0 {
		slot := m.free[n-1]
		m.free = m.free[:n-1]
		return slot
	}
	m.empty++
	return m.entities.Append(nil)
}

func (m *MutableFamily) computeFree() {
	if m.freeComputed {
		return
	}
	m.freeComputed = true
	if m.empty == 0 {
		return
	}
	for slot := m.entities.Len() - 1; slot >= 0; slot-- {
		if m.entities.Get(slot) != nil {
			continue
		}
		if _, ok := m.parked[slot]; ok {
			continue
		}
		if _, ok := m.booked[slot]; ok {
			continue
		}
		m.free = append(m.free, slot)
	}
}
