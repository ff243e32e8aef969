package testutil

import (
	"github.com/teranos/entitystore/entity"
)

// Schema is a registry with the test entity types and their connections.
// Every test builds its own so ids never leak between tests.
type Schema struct {
	Reg *entity.Registry

	Module            entity.TypeID
	ContentRoot       entity.TypeID
	SourceRoot        entity.TypeID
	Library           entity.TypeID
	LibraryDependency entity.TypeID
	Facet             entity.TypeID
	Named             entity.TypeID
	NamedChild        entity.TypeID
	Node              entity.TypeID
	Left              entity.TypeID
	Middle            entity.TypeID
	Right             entity.TypeID
	OoParent          entity.TypeID
	OoChild           entity.TypeID
	Linked            entity.TypeID

	// ModuleContentRoots: content roots die with their module.
	ModuleContentRoots *entity.ConnectionID
	// ContentRootSourceRoots: source roots die with their content root.
	ContentRootSourceRoots *entity.ConnectionID
	ModuleDependencies     *entity.ConnectionID
	// ModuleFacets: facets survive without a module.
	ModuleFacets  *entity.ConnectionID
	NamedChildren *entity.ConnectionID
	// MiddleChildren holds any Node subtype; children survive detaching.
	MiddleChildren *entity.ConnectionID
	// OoParentChild: at most one child per parent, the child needs its parent.
	OoParentChild *entity.ConnectionID
	// NodeHead links any two nodes one-to-one, both sides optional.
	NodeHead *entity.ConnectionID
}

// NewSchema returns a fresh schema.
func NewSchema() *Schema {
	reg := entity.NewRegistry()
	s := &Schema{Reg: reg}

	s.Module = reg.MustRegister(entity.TypeSpec{Name: "Module", Version: "1.0.0"})
	s.ContentRoot = reg.MustRegister(entity.TypeSpec{Name: "ContentRoot", Version: "1.0.0"})
	s.SourceRoot = reg.MustRegister(entity.TypeSpec{Name: "SourceRoot", Version: "1.0.0"})
	s.Library = reg.MustRegister(entity.TypeSpec{Name: "Library", Version: "1.0.0"})
	s.LibraryDependency = reg.MustRegister(entity.TypeSpec{Name: "LibraryDependency", Version: "1.0.0"})
	s.Facet = reg.MustRegister(entity.TypeSpec{Name: "Facet", Version: "1.0.0"})
	s.Named = reg.MustRegister(entity.TypeSpec{Name: "Named", Version: "1.0.0"})
	s.NamedChild = reg.MustRegister(entity.TypeSpec{Name: "NamedChild", Version: "1.0.0"})
	s.Node = reg.MustRegister(entity.TypeSpec{Name: "Node", Abstract: true})
	s.Left = reg.MustRegister(entity.TypeSpec{Name: "Left", Supertypes: []string{"Node"}})
	s.Middle = reg.MustRegister(entity.TypeSpec{Name: "Middle", Supertypes: []string{"Node"}})
	s.Right = reg.MustRegister(entity.TypeSpec{Name: "Right", Supertypes: []string{"Node"}})
	s.OoParent = reg.MustRegister(entity.TypeSpec{Name: "OoParent"})
	s.OoChild = reg.MustRegister(entity.TypeSpec{Name: "OoChild"})
	s.Linked = reg.MustRegister(entity.TypeSpec{Name: "Linked"})

	s.ModuleContentRoots = reg.Connection(s.Module, s.ContentRoot, entity.OneToMany, false, false)
	s.ContentRootSourceRoots = reg.Connection(s.ContentRoot, s.SourceRoot, entity.OneToMany, false, false)
	s.ModuleDependencies = reg.Connection(s.Module, s.LibraryDependency, entity.OneToMany, false, false)
	s.ModuleFacets = reg.Connection(s.Module, s.Facet, entity.OneToMany, true, false)
	s.NamedChildren = reg.Connection(s.Named, s.NamedChild, entity.OneToMany, false, false)
	s.MiddleChildren = reg.Connection(s.Middle, s.Node, entity.OneToAbstractMany, true, false)
	s.OoParentChild = reg.Connection(s.OoParent, s.OoChild, entity.OneToOne, false, true)
	s.NodeHead = reg.Connection(s.Node, s.Node, entity.AbstractOneToOne, true, true)
	return s
}

// Sources used across tests.
const (
	SourceA = entity.SourceName("a")
	SourceB = entity.SourceName("b")
	SourceC = entity.SourceName("c")
)

// Placeholder is a placeholder source.
const Placeholder = entity.PlaceholderName("placeholder")

// OnlySource returns a filter matching exactly src.
func OnlySource(src entity.Source) func(entity.Source) bool {
	return func(s entity.Source) bool { return s == src }
}
