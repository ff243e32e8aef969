package entity

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/entitystore/errors"
)

// TypeSpec declares an entity type. Supertypes name abstract types the entity
// can stand in for in abstract connections.
type TypeSpec struct {
	Name       string
	Version    string
	Supertypes []string
	Abstract   bool
}

// TypeInfo is the registered form of a TypeSpec.
type TypeInfo struct {
	ID         TypeID
	Name       string
	Version    *semver.Version
	Supertypes []TypeID
	Abstract   bool
	// Declared is false for types only seen through Intern.
	Declared bool
}

type typeTable struct {
	infos  []TypeInfo
	byName map[string]TypeID
}

type connectionKey struct {
	parent, child  TypeID
	kind           ConnectionType
	parentNullable bool
	childNullable  bool
}

// Registry interns entity types and connections for one process (or one
// test). Create it once with NewRegistry and pass it to every storage that
// shares entities; ids from different registries are not comparable.
//
// The type table is append-only and published through an atomic pointer, so
// lookups never lock. The connection pool hands out one *ConnectionID per
// distinct description, which makes == an identity check.
type Registry struct {
	types       atomic.Pointer[typeTable]
	connections sync.Map // connectionKey -> *ConnectionID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.types.Store(&typeTable{byName: map[string]TypeID{}})
	return r
}

// Intern returns the id of the named type, adding an undeclared entry when the
// name is new.
func (r *Registry) Intern(name string) TypeID {
	for {
		old := r.types.Load()
		if id, ok := old.byName[name]; ok {
			return id
		}
		next := old.with(TypeInfo{Name: name})
		if r.types.CompareAndSwap(old, next) {
			return next.byName[name]
		}
	}
}

// Register declares a type. Registering a name that was only interned fills in
// its declaration; registering a declared name again is an error.
func (r *Registry) Register(spec TypeSpec) (TypeID, error) {
	if spec.Name == "" {
		return 0, errors.NewInvalidRequestError("type name is empty")
	}
	var version *semver.Version
	if spec.Version != "" {
		v, err := semver.NewVersion(spec.Version)
		if err != nil {
			return 0, errors.Wrapf(errors.ErrInvalidRequest, "type %s version %q: %v", spec.Name, spec.Version, err)
		}
		version = v
	}
	supers := make([]TypeID, 0, len(spec.Supertypes))
	for _, s := range spec.Supertypes {
		supers = append(supers, r.Intern(s))
	}

	for {
		old := r.types.Load()
		info := TypeInfo{
			Name:       spec.Name,
			Version:    version,
			Supertypes: supers,
			Abstract:   spec.Abstract,
			Declared:   true,
		}
		if id, ok := old.byName[spec.Name]; ok {
			if old.infos[id].Declared {
				return 0, errors.Wrapf(errors.ErrConflict, "type %s registered twice", spec.Name)
			}
			info.ID = id
			next := old.replace(info)
			if r.types.CompareAndSwap(old, next) {
				return id, nil
			}
			continue
		}
		next := old.with(info)
		if r.types.CompareAndSwap(old, next) {
			return next.byName[spec.Name], nil
		}
	}
}

// MustRegister is Register for static schemas; it panics on error.
func (r *Registry) MustRegister(spec TypeSpec) TypeID {
	id, err := r.Register(spec)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup returns the id of a known type name.
func (r *Registry) Lookup(name string) (TypeID, bool) {
	id, ok := r.types.Load().byName[name]
	return id, ok
}

// TypeOf returns the id of the type of d, interning it if needed.
func (r *Registry) TypeOf(d Data) TypeID {
	return r.Intern(d.EntityType())
}

// Info returns the registered description of id.
func (r *Registry) Info(id TypeID) (TypeInfo, bool) {
	t := r.types.Load()
	if id < 0 || int(id) >= len(t.infos) {
		return TypeInfo{}, false
	}
	return t.infos[id], true
}

// Name returns the type name of id, or "?" for unknown ids.
func (r *Registry) Name(id TypeID) string {
	if info, ok := r.Info(id); ok {
		return info.Name
	}
	return "?"
}

// TypeCount returns the number of interned types.
func (r *Registry) TypeCount() int {
	return len(r.types.Load().infos)
}

// IsAssignable reports whether an entity of type actual may be used where
// target is expected: the types are equal or target is a transitive
// supertype of actual.
func (r *Registry) IsAssignable(target, actual TypeID) bool {
	if target == actual {
		return true
	}
	t := r.types.Load()
	seen := map[TypeID]bool{actual: true}
	queue := []TypeID{actual}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if int(cur) >= len(t.infos) {
			continue
		}
		for _, s := range t.infos[cur].Supertypes {
			if s == target {
				return true
			}
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	return false
}

// Connection returns the interned connection for the description.
func (r *Registry) Connection(parent, child TypeID, kind ConnectionType, parentNullable, childNullable bool) *ConnectionID {
	kind.mustBeValid()
	key := connectionKey{parent, child, kind, parentNullable, childNullable}
	if c, ok := r.connections.Load(key); ok {
		return c.(*ConnectionID)
	}
	c, _ := r.connections.LoadOrStore(key, &ConnectionID{
		Parent:         parent,
		Child:          child,
		Kind:           kind,
		ParentNullable: parentNullable,
		ChildNullable:  childNullable,
	})
	return c.(*ConnectionID)
}

// Connections lists the interned connections ordered by parent, child, kind.
func (r *Registry) Connections() []*ConnectionID {
	var out []*ConnectionID
	r.connections.Range(func(_, v any) bool {
		out = append(out, v.(*ConnectionID))
		return true
	})
	slices.SortFunc(out, (*ConnectionID).Compare)
	return out
}

// Describe renders a connection with type names.
func (r *Registry) Describe(c *ConnectionID) string {
	return r.Name(c.Parent) + " -" + c.Kind.String() + "-> " + r.Name(c.Child)
}

func (t *typeTable) with(info TypeInfo) *typeTable {
	infos := make([]TypeInfo, len(t.infos), len(t.infos)+1)
	copy(infos, t.infos)
	info.ID = TypeID(len(infos))
	infos = append(infos, info)

	byName := make(map[string]TypeID, len(t.byName)+1)
	for k, v := range t.byName {
		byName[k] = v
	}
	byName[info.Name] = info.ID
	return &typeTable{infos: infos, byName: byName}
}

func (t *typeTable) replace(info TypeInfo) *typeTable {
	infos := make([]TypeInfo, len(t.infos))
	copy(infos, t.infos)
	infos[info.ID] = info
	return &typeTable{infos: infos, byName: t.byName}
}
