package entity

import (
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/version"
)

// TypeDescriptor is the stable, serializable name of an entity type.
type TypeDescriptor struct {
	Name          string `yaml:"name" toml:"name"`
	Version       string `yaml:"version,omitempty" toml:"version"`
	FormatVersion string `yaml:"format_version,omitempty" toml:"format_version"`
}

// Factory creates an empty entity of one type.
type Factory func() Data

// TypeResolver maps descriptors to runtime types. Only loaders and
// serializers use it; storage logic works on TypeIDs.
type TypeResolver interface {
	Resolve(desc TypeDescriptor) (TypeID, Factory, error)
}

// RegistryResolver resolves descriptors against a Registry and the factories
// registered with Bind.
type RegistryResolver struct {
	reg       *Registry
	mu        sync.RWMutex
	factories map[TypeID]Factory
}

// NewRegistryResolver returns a resolver backed by reg.
func NewRegistryResolver(reg *Registry) *RegistryResolver {
	return &RegistryResolver{reg: reg, factories: map[TypeID]Factory{}}
}

// Bind associates a factory with a declared type.
func (r *RegistryResolver) Bind(id TypeID, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Resolve checks that the descriptor names a declared type in a compatible
// version and returns its factory.
func (r *RegistryResolver) Resolve(desc TypeDescriptor) (TypeID, Factory, error) {
	ok, err := version.Compatible(desc.FormatVersion)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, errors.NewUnsupportedError("format version %s of type %s", desc.FormatVersion, desc.Name)
	}

	id, found := r.reg.Lookup(desc.Name)
	if !found {
		return 0, nil, errors.NewNotFoundError("type %s", desc.Name)
	}
	info, _ := r.reg.Info(id)
	if !info.Declared {
		return 0, nil, errors.NewNotFoundError("type %s is not declared", desc.Name)
	}
	if info.Abstract {
		return 0, nil, errors.NewInvalidRequestError("type %s is abstract", desc.Name)
	}
	if err := checkTypeVersion(info, desc.Version); err != nil {
		return 0, nil, err
	}

	r.mu.RLock()
	f, bound := r.factories[id]
	r.mu.RUnlock()
	if !bound {
		return 0, nil, errors.NewNotFoundError("no factory for type %s", desc.Name)
	}
	return id, f, nil
}

// checkTypeVersion accepts descriptors from the registered major version that
// are not newer than the registered version.
func checkTypeVersion(info TypeInfo, v string) error {
	if v == "" || info.Version == nil {
		return nil
	}
	got, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "type %s version %q: %v", info.Name, v, err)
	}
	if got.Major() != info.Version.Major() || got.GreaterThan(info.Version) {
		return errors.NewUnsupportedError("type %s version %s, registered %s", info.Name, got, info.Version)
	}
	return nil
}
