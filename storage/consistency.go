package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/storeerror"
)

// maxListedViolations caps the violations named in a consistency error.
const maxListedViolations = 20

type violation struct {
	sub string
	msg string
}

// violations collects findings from concurrent checks.
type violations struct {
	mu   sync.Mutex
	list []violation
}

func (v *violations) add(sub, format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.list = append(v.list, violation{sub: sub, msg: fmt.Sprintf(format, args...)})
}

// CheckConsistency verifies r: the slot invariant and counters of every
// family, the reference table against the registry, mandatory references and
// every index against the stored data. Independent families and connections
// are checked concurrently; r must not be written meanwhile.
func CheckConsistency(ctx context.Context, r Reader) error {
	v := &violations{}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.Types() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			checkFamily(r, t, v)
			checkIndexedData(r, t, v)
			return nil
		})
	}
	for _, conn := range r.Connections() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			checkConnection(r, conn, v)
			return nil
		})
	}
	for _, conn := range r.Registry().Connections() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			checkMandatory(r, conn, v)
			return nil
		})
	}
	g.Go(func() error {
		checkIndexEntries(r, v)
		return nil
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "consistency check")
	}
	return v.err()
}

func (v *violations) err() error {
	if len(v.list) == 0 {
		return nil
	}
	slices.SortFunc(v.list, func(a, b violation) int {
		if c := strings.Compare(a.sub, b.sub); c != 0 {
			return c
		}
		return strings.Compare(a.msg, b.msg)
	})
	msgs := make([]string, 0, min(len(v.list), maxListedViolations))
	for _, x := range v.list[:min(len(v.list), maxListedViolations)] {
		msgs = append(msgs, x.msg)
	}
	return storeerror.New(storeerror.CategoryConsistency,
		errors.Wrapf(errors.ErrBrokenConsistency, "%d violations, first: %s", len(v.list), v.list[0].msg)).
		WithSubcategory(v.list[0].sub).
		WithContext(logger.FieldCount, len(v.list)).
		WithContext("violations", msgs)
}

func checkFamily(r Reader, t entity.TypeID, v *violations) {
	reg := r.Registry()
	f := r.barrel().Family(t)
	empty := 0
	for slot := 0; slot < f.Len(); slot++ {
		d := f.Get(slot)
		if d == nil {
			empty++
			continue
		}
		if d.Slot() != slot {
			v.add(storeerror.SubcategoryConsistencyFamily, "%s slot %d holds an entity of slot %d", reg.Name(t), slot, d.Slot())
		}
		if got := reg.TypeOf(d); got != t {
			v.add(storeerror.SubcategoryConsistencyFamily, "%s slot %d holds a %s", reg.Name(t), slot, reg.Name(got))
		}
	}
	if empty != f.EmptySlots() {
		v.add(storeerror.SubcategoryConsistencyFamily, "%s counts %d empty slots, found %d", reg.Name(t), f.EmptySlots(), empty)
	}
	if f.Count() != f.Len()-empty {
		v.add(storeerror.SubcategoryConsistencyFamily, "%s counts %d entities, found %d", reg.Name(t), f.Count(), f.Len()-empty)
	}
}

func checkConnection(r Reader, conn *entity.ConnectionID, v *violations) {
	reg := r.Registry()
	name := reg.Describe(conn)
	table := r.refTable()
	total := 0
	for _, p := range table.Parents(conn) {
		if r.Get(p) == nil {
			v.add(storeerror.SubcategoryConsistencyRefs, "%s: parent %s does not exist", name, p)
		}
		if !fitsConn(reg, conn, p.Type(), true) {
			v.add(storeerror.SubcategoryConsistencyRefs, "%s: parent %s has the wrong type", name, p)
		}
		kids := table.Children(conn, p)
		if conn.IsOneToOne() && len(kids) > 1 {
			v.add(storeerror.SubcategoryConsistencyRefs, "%s: parent %s has %d children", name, p, len(kids))
		}
		for _, k := range kids {
			total++
			if r.Get(k) == nil {
				v.add(storeerror.SubcategoryConsistencyRefs, "%s: child %s of %s does not exist", name, k, p)
			}
			if !fitsConn(reg, conn, k.Type(), false) {
				v.add(storeerror.SubcategoryConsistencyRefs, "%s: child %s has the wrong type", name, k)
			}
			if back, ok := table.Parent(conn, k); !ok || back != p {
				v.add(storeerror.SubcategoryConsistencyRefs, "%s: child %s of %s points back at %s", name, k, p, back)
			}
		}
	}
	if size := table.Size(conn); size != total {
		v.add(storeerror.SubcategoryConsistencyRefs, "%s: size %d, counted %d", name, size, total)
	}
}

// checkMandatory verifies that entities of concrete types have the parents
// and one-to-one children conn requires.
func checkMandatory(r Reader, conn *entity.ConnectionID, v *violations) {
	name := r.Registry().Describe(conn)
	if !conn.ParentNullable && !conn.IsAbstract() {
		for d := range r.Entities(conn.Child) {
			id := entity.NewEntityID(d.Slot(), conn.Child)
			if _, ok := r.Parent(conn, id); !ok {
				v.add(storeerror.SubcategoryConsistencyRefs, "%s: %s has no parent", name, id)
			}
		}
	}
	if conn.Kind == entity.OneToOne && !conn.ChildNullable {
		for d := range r.Entities(conn.Parent) {
			id := entity.NewEntityID(d.Slot(), conn.Parent)
			if len(r.Children(conn, id)) == 0 {
				v.add(storeerror.SubcategoryConsistencyRefs, "%s: %s has no child", name, id)
			}
		}
	}
}

// checkIndexedData verifies the index entries of every entity of type t.
func checkIndexedData(r Reader, t entity.TypeID, v *violations) {
	ix := r.indexSet()
	for d := range r.Entities(t) {
		id := entity.NewEntityID(d.Slot(), t)
		if sym := entity.SymbolicIDOf(d); sym != nil {
			if holder, ok := ix.Resolve(sym); !ok || holder != id {
				v.add(storeerror.SubcategoryConsistencyIndex, "symbolic id %s of %s resolves to %s", sym, id, holder)
			}
		} else if sym, ok := ix.SymbolicID(id); ok {
			v.add(storeerror.SubcategoryConsistencyIndex, "%s is indexed under %s without a symbolic id", id, sym)
		}
		if src, ok := ix.Source(id); !ok || src != d.Source() {
			v.add(storeerror.SubcategoryConsistencyIndex, "%s has source %v, indexed %v", id, d.Source(), src)
		}
		if !sameLinks(entity.SoftLinksOf(d), ix.SoftLinks(id)) {
			v.add(storeerror.SubcategoryConsistencyIndex, "soft links of %s differ from the index", id)
		}
	}
}

// checkIndexEntries verifies that every index entry names a stored entity.
func checkIndexEntries(r Reader, v *violations) {
	ix := r.indexSet()
	for sym, id := range ix.SymbolicIDs() {
		d := r.Get(id)
		if d == nil || entity.SymbolicIDOf(d) != sym {
			v.add(storeerror.SubcategoryConsistencyIndex, "symbolic id %s indexed for %s", sym, id)
		}
	}
	for _, src := range ix.Sources() {
		for _, id := range ix.EntitiesBySource(src) {
			if d := r.Get(id); d == nil || d.Source() != src {
				v.add(storeerror.SubcategoryConsistencyIndex, "source %s indexed for %s", src, id)
			}
		}
	}
	for _, id := range ix.SoftLinkHolders() {
		if r.Get(id) == nil {
			v.add(storeerror.SubcategoryConsistencyIndex, "soft links indexed for missing %s", id)
		}
	}
	for _, name := range ix.MappingNames() {
		for _, id := range ix.MappingIDs(name) {
			if r.Get(id) == nil {
				v.add(storeerror.SubcategoryConsistencyIndex, "mapping %s holds missing %s", name, id)
			}
		}
	}
	for _, id := range ix.VirtualFiles().Entities() {
		if r.Get(id) == nil {
			v.add(storeerror.SubcategoryConsistencyIndex, "virtual files indexed for missing %s", id)
		}
	}
}

func sameLinks(a, b []entity.SymbolicID) bool {
	set := func(l []entity.SymbolicID) map[entity.SymbolicID]struct{} {
		m := make(map[entity.SymbolicID]struct{}, len(l))
		for _, s := range l {
			m[s] = struct{}{}
		}
		return m
	}
	sa, sb := set(a), set(b)
	if len(sa) != len(sb) {
		return false
	}
	for s := range sa {
		if _, ok := sb[s]; !ok {
			return false
		}
	}
	return true
}

// fitsConn reports whether type t may sit on one side of conn.
func fitsConn(reg *entity.Registry, conn *entity.ConnectionID, t entity.TypeID, parentSide bool) bool {
	if parentSide {
		if conn.Kind == entity.AbstractOneToOne {
			return reg.IsAssignable(conn.Parent, t)
		}
		return t == conn.Parent
	}
	if conn.IsAbstract() {
		return reg.IsAssignable(conn.Child, t)
	}
	return t == conn.Child
}

// CheckConsistency verifies the snapshot, see the package function.
func (s *Snapshot) CheckConsistency(ctx context.Context) error {
	return CheckConsistency(ctx, s)
}

// AssertConsistency verifies the builder in place.
func (b *Builder) AssertConsistency() error {
	defer b.guard.enter("AssertConsistency")()
	return CheckConsistency(context.Background(), b)
}

func (b *Builder) mode() ConsistencyMode {
	if b.opts.Mode != "" {
		return b.opts.Mode
	}
	return ResolvedMode()
}

// checkAfterMerge runs the consistency check the builder's mode asks for.
// Builders already known to be broken are not checked again.
func (b *Builder) checkAfterMerge(op string) error {
	if b.broken.Load() {
		return nil
	}
	mode := b.mode()
	switch mode {
	case ModeDisabled:
		return nil
	case ModeAsync:
		snap := b.ToSnapshot()
		b.checker().Submit(snap, func(err error) {
			b.broken.Store(true)
			b.reportInconsistency(op, mode, snap, err)
		})
		return nil
	case ModeSync:
		start := time.Now()
		err := CheckConsistency(context.Background(), b)
		recordCheck(mode, time.Since(start), err == nil)
		if err == nil {
			return nil
		}
		b.broken.Store(true)
		return b.reportInconsistency(op, mode, b, err)
	default:
		panic("storage: unknown consistency mode " + string(mode))
	}
}

func (b *Builder) reportInconsistency(op string, mode ConsistencyMode, r Reader, err error) error {
	var se *storeerror.StoreError
	if !errors.As(err, &se) {
		se = storeerror.New(storeerror.CategoryConsistency, err)
	}
	se.WithContext(logger.FieldOperation, op).WithContext(logger.FieldMode, string(mode))
	return b.reports.report("Consistency check failed", se, b.reports.attachStorage("storage", r))
}

func (b *Builder) checker() *Checker {
	if b.opts.Checker != nil {
		return b.opts.Checker
	}
	return sharedChecker()
}
