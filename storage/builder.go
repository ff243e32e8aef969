package storage

import (
	"iter"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/family"
	"github.com/teranos/entitystore/storage/index"
	"github.com/teranos/entitystore/storage/refs"
)

// Builder is a mutable storage owned by one writer. Every write is recorded
// in its change log; ToSnapshot publishes the current state.
type Builder struct {
	view
	id       string
	opts     Options
	log      *zap.SugaredLogger
	entities *family.MutableBarrel
	refs     *refs.MutableTable
	indexes  *index.MutableIndexes
	changes  *changelog.Log
	guard    *writerGuard
	reports  *reporter
	// broken is set once a merge left the builder inconsistent. Later checks
	// are skipped.
	broken atomic.Bool
	// deferring collects detached mandatory children instead of removing
	// them, so a merge can relink them first.
	deferring bool
	deferred  []orphan
}

// noEntity is an id no stored entity has.
const noEntity = ^entity.EntityID(0)

// orphan is a child detached over a connection it needs a parent on.
type orphan struct {
	conn *entity.ConnectionID
	id   entity.EntityID
}

// NewBuilder returns an empty builder.
func NewBuilder(reg *entity.Registry, opts ...Option) *Builder {
	return newBuilder(reg, family.NewMutableBarrel(), refs.NewMutable(), index.NewMutable(), buildOptions(opts))
}

func newBuilder(reg *entity.Registry, b *family.MutableBarrel, t *refs.MutableTable, ix *index.MutableIndexes, opts Options) *Builder {
	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("storage")
	}
	log = log.With(logger.FieldBuilderID, id)
	return &Builder{
		view:     view{reg: reg, b: b, r: t, ix: ix},
		id:       id,
		opts:     opts,
		log:      log,
		entities: b,
		refs:     t,
		indexes:  ix,
		changes:  changelog.New(log.Named("changelog")),
		guard:    newWriterGuard(id, log, opts.CaptureWriterStacks),
		reports:  newReporter(id, log, opts),
	}
}

// ID identifies the builder in logs and reports.
func (b *Builder) ID() string { return b.id }

// IsBroken reports whether a merge left the builder inconsistent.
func (b *Builder) IsBroken() bool { return b.broken.Load() }

// Ref is a reference given to AddEntity.
type Ref struct {
	conn     *entity.ConnectionID
	parent   entity.EntityID
	children []entity.EntityID
	isParent bool
}

// ParentRef makes parent the parent of the new entity over conn.
func ParentRef(conn *entity.ConnectionID, parent entity.EntityID) Ref {
	return Ref{conn: conn, parent: parent, isParent: true}
}

// ChildrenRef makes children the children of the new entity over conn.
func ChildrenRef(conn *entity.ConnectionID, children ...entity.EntityID) Ref {
	return Ref{conn: conn, children: children}
}

// AddEntity stores d, which the builder takes ownership of, and links it.
// A symbolic id already held by another entity is a conflict.
func (b *Builder) AddEntity(d entity.Data, links ...Ref) (id entity.EntityID, err error) {
	defer b.guard.enter("AddEntity")()
	start := time.Now()
	defer func() { recordOperation("add_entity", start, err) }()

	if d == nil {
		return 0, errors.NewInvalidRequestError("nil entity")
	}
	if d.Source() == nil {
		return 0, errors.NewInvalidRequestError("entity %s has no source", d.EntityType())
	}
	t := b.reg.TypeOf(d)
	if sym := entity.SymbolicIDOf(d); sym != nil {
		if holder, ok := b.indexes.Resolve(sym); ok {
			return 0, errors.Wrapf(errors.ErrConflict, "%s is held by %s", sym, holder)
		}
	}
	for _, l := range links {
		if err := b.checkRef(t, l); err != nil {
			return 0, err
		}
	}

	tr := b.newTracker()
	id = b.entities.Add(t, d)
	tr.added(id)
	b.indexes.Index(id, d)
	b.changes.Add(id, d)
	for _, l := range links {
		if l.isParent {
			b.setParent(tr, l.conn, id, l.parent)
		} else {
			b.setChildren(tr, l.conn, id, l.children)
		}
	}
	tr.flush()
	b.log.Debugw("Entity added",
		logger.FieldEntityID, id.String(),
		logger.FieldEntityType, b.reg.Name(t))
	return id, nil
}

func (b *Builder) checkRef(t entity.TypeID, l Ref) error {
	if l.conn == nil {
		return errors.NewInvalidRequestError("nil connection")
	}
	if l.isParent {
		if !b.fits(l.conn, t, false) {
			return errors.NewInvalidRequestError("%s cannot be a child over %s", b.reg.Name(t), b.reg.Describe(l.conn))
		}
		return b.checkEndpoint(l.conn, l.parent, true)
	}
	if !b.fits(l.conn, t, true) {
		return errors.NewInvalidRequestError("%s cannot be a parent over %s", b.reg.Name(t), b.reg.Describe(l.conn))
	}
	if l.conn.IsOneToOne() && len(l.children) > 1 {
		return errors.NewInvalidRequestError("%d children over %s", len(l.children), b.reg.Describe(l.conn))
	}
	for _, c := range l.children {
		if err := b.checkEndpoint(l.conn, c, false); err != nil {
			return err
		}
	}
	return nil
}

// checkEndpoint verifies that id exists and fits the parent or child side of
// conn.
func (b *Builder) checkEndpoint(conn *entity.ConnectionID, id entity.EntityID, parentSide bool) error {
	if b.entities.Get(id) == nil {
		return errors.NewNotFoundError("entity %s", id)
	}
	if !b.fits(conn, id.Type(), parentSide) {
		side := "child"
		if parentSide {
			side = "parent"
		}
		return errors.NewInvalidRequestError("%s cannot be a %s over %s", b.reg.Name(id.Type()), side, b.reg.Describe(conn))
	}
	return nil
}

// fits reports whether type t may sit on one side of conn.
func (b *Builder) fits(conn *entity.ConnectionID, t entity.TypeID, parentSide bool) bool {
	return fitsConn(b.reg, conn, t, parentSide)
}

// RemoveEntity removes the entity and, recursively, every child that cannot
// live without it. Children over nullable connections are detached.
func (b *Builder) RemoveEntity(id entity.EntityID) (err error) {
	defer b.guard.enter("RemoveEntity")()
	start := time.Now()
	defer func() { recordOperation("remove_entity", start, err) }()

	if b.entities.Get(id) == nil {
		return errors.NewNotFoundError("entity %s", id)
	}
	tr := b.newTracker()
	removed := b.removeCascade(tr, id)
	tr.flush()
	b.log.Debugw("Entity removed",
		logger.FieldEntityID, id.String(),
		logger.FieldRemoved, len(removed))
	return nil
}

// ChangeSource relabels the entity with src.
func (b *Builder) ChangeSource(id entity.EntityID, src entity.Source) (err error) {
	defer b.guard.enter("ChangeSource")()
	start := time.Now()
	defer func() { recordOperation("change_source", start, err) }()

	if src == nil {
		return errors.NewInvalidRequestError("nil source")
	}
	if b.entities.Get(id) == nil {
		return errors.NewNotFoundError("entity %s", id)
	}
	b.relabel(id, src)
	return nil
}

func (b *Builder) relabel(id entity.EntityID, src entity.Source) {
	if b.entities.Get(id).Source() == src {
		return
	}
	prev := b.entities.Get(id).Clone()
	prev.SetSlot(id.Slot())
	d := b.entities.GetForModification(id)
	d.SetSource(src)
	b.indexes.SetSource(id, src)
	b.changes.ChangeSource(id, prev, d)
}

// ToSnapshot publishes the current state. The builder stays usable; later
// writes do not affect the snapshot.
func (b *Builder) ToSnapshot() *Snapshot {
	defer b.guard.enter("ToSnapshot")()
	return newSnapshot(b.reg, b.entities.Freeze(), b.refs.Freeze(), b.indexes.Freeze())
}

// HasChanges reports whether the change log holds anything.
func (b *Builder) HasChanges() bool { return b.changes.Len() > 0 }

// ResetChanges clears the change log. The modification count is kept. Slots
// freed by the cleared changes become reusable.
func (b *Builder) ResetChanges() {
	b.changes.Clear()
	b.entities.Unpark()
}

// ModificationCount counts every event recorded since the builder was
// created. It only grows.
func (b *Builder) ModificationCount() uint64 { return b.changes.ModificationCount() }

// Changes iterates over the change log in first-change order.
func (b *Builder) Changes() iter.Seq2[entity.EntityID, changelog.Change] {
	return b.changes.All()
}

// ChangeOf returns the coalesced change of id.
func (b *Builder) ChangeOf(id entity.EntityID) (changelog.Change, bool) {
	return b.changes.Get(id)
}

// MutableExternalMapping returns the writable external mapping of key.
func MutableExternalMapping[T any](b *Builder, key index.MappingKey[T]) index.MutableMapping[T] {
	return index.MutableExternalMapping(b.indexes, key)
}

// MutableVirtualFileIndex returns the writable virtual file index.
func (b *Builder) MutableVirtualFileIndex() index.MutableVirtualFileIndex {
	return b.indexes.MutableVirtualFiles()
}

// sortedConns returns the keys of m in connection order.
func sortedConns[V any](m map[*entity.ConnectionID]V) []*entity.ConnectionID {
	out := make([]*entity.ConnectionID, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	slices.SortFunc(out, (*entity.ConnectionID).Compare)
	return out
}
