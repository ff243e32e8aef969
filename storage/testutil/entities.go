// Package testutil holds the entity types and schema used by storage tests.
package testutil

import (
	"io"
	"slices"
	"strings"

	"github.com/teranos/entitystore/entity"
)

func writeFields(w io.Writer, fields ...string) {
	for _, f := range fields {
		_, _ = io.WriteString(w, f)
		_, _ = io.WriteString(w, "\x00")
	}
}

func linkStrings(links []entity.SymbolicID) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.String()
	}
	return out
}

func updateLinks(links []entity.SymbolicID, old, updated entity.SymbolicID) bool {
	changed := false
	for i, l := range links {
		if l == old {
			links[i] = updated
			changed = true
		}
	}
	return changed
}

// Module is a named unit with a symbolic id.
type Module struct {
	entity.Base `yaml:"-"`
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind,omitempty"`
}

// NewModule returns a module named name from src.
func NewModule(name string, src entity.Source) *Module {
	return &Module{Base: entity.NewBase(src), Name: name}
}

func (m *Module) EntityType() string { return "Module" }

func (m *Module) SymbolicID() entity.SymbolicID { return entity.NameID{Type: "Module", Name: m.Name} }

func (m *Module) Clone() entity.Data {
	c := *m
	return &c
}

func (m *Module) Equal(o entity.Data) bool {
	return m.EqualIgnoringSource(o) && m.Source() == o.Source()
}

func (m *Module) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Module)
	return ok && other.Name == m.Name && other.Kind == m.Kind
}

func (m *Module) HashContent(w io.Writer) { writeFields(w, m.Name, m.Kind) }

// ContentRoot is a directory of a module.
type ContentRoot struct {
	entity.Base `yaml:"-"`
	URL         string   `yaml:"url"`
	Excluded    []string `yaml:"excluded,omitempty"`
}

// NewContentRoot returns a content root at url from src.
func NewContentRoot(url string, src entity.Source) *ContentRoot {
	return &ContentRoot{Base: entity.NewBase(src), URL: url}
}

func (c *ContentRoot) EntityType() string { return "ContentRoot" }

func (c *ContentRoot) Clone() entity.Data {
	cp := *c
	cp.Excluded = slices.Clone(c.Excluded)
	return &cp
}

func (c *ContentRoot) Equal(o entity.Data) bool {
	return c.EqualIgnoringSource(o) && c.Source() == o.Source()
}

func (c *ContentRoot) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*ContentRoot)
	return ok && other.URL == c.URL && slices.Equal(other.Excluded, c.Excluded)
}

func (c *ContentRoot) HashContent(w io.Writer) {
	writeFields(w, c.URL, strings.Join(c.Excluded, "\n"))
}

// SourceRoot is a source folder of a content root.
type SourceRoot struct {
	entity.Base `yaml:"-"`
	URL         string `yaml:"url"`
	RootType    string `yaml:"root_type,omitempty"`
}

// NewSourceRoot returns a source root at url from src.
func NewSourceRoot(url string, src entity.Source) *SourceRoot {
	return &SourceRoot{Base: entity.NewBase(src), URL: url}
}

func (s *SourceRoot) EntityType() string { return "SourceRoot" }

func (s *SourceRoot) Clone() entity.Data {
	c := *s
	return &c
}

func (s *SourceRoot) Equal(o entity.Data) bool {
	return s.EqualIgnoringSource(o) && s.Source() == o.Source()
}

func (s *SourceRoot) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*SourceRoot)
	return ok && other.URL == s.URL && other.RootType == s.RootType
}

func (s *SourceRoot) HashContent(w io.Writer) { writeFields(w, s.URL, s.RootType) }

// Library is a named library with a symbolic id.
type Library struct {
	entity.Base `yaml:"-"`
	Name        string   `yaml:"name"`
	Roots       []string `yaml:"roots,omitempty"`
}

// NewLibrary returns a library named name from src.
func NewLibrary(name string, src entity.Source) *Library {
	return &Library{Base: entity.NewBase(src), Name: name}
}

func (l *Library) EntityType() string { return "Library" }

func (l *Library) SymbolicID() entity.SymbolicID { return entity.NameID{Type: "Library", Name: l.Name} }

func (l *Library) Clone() entity.Data {
	c := *l
	c.Roots = slices.Clone(l.Roots)
	return &c
}

func (l *Library) Equal(o entity.Data) bool {
	return l.EqualIgnoringSource(o) && l.Source() == o.Source()
}

func (l *Library) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Library)
	return ok && other.Name == l.Name && slices.Equal(other.Roots, l.Roots)
}

func (l *Library) HashContent(w io.Writer) {
	writeFields(w, l.Name, strings.Join(l.Roots, "\n"))
}

// LibraryDependency is a module dependency that refers to a library by
// symbolic id.
type LibraryDependency struct {
	entity.Base `yaml:"-"`
	Library     entity.SymbolicID `yaml:"library"`
	Scope       string            `yaml:"scope,omitempty"`
}

// NewLibraryDependency returns a dependency on the named library from src.
func NewLibraryDependency(library string, src entity.Source) *LibraryDependency {
	return &LibraryDependency{Base: entity.NewBase(src), Library: entity.NameID{Type: "Library", Name: library}}
}

func (d *LibraryDependency) EntityType() string { return "LibraryDependency" }

func (d *LibraryDependency) SoftLinks() []entity.SymbolicID { return []entity.SymbolicID{d.Library} }

func (d *LibraryDependency) UpdateLink(old, updated entity.SymbolicID) bool {
	if d.Library != old {
		return false
	}
	d.Library = updated
	return true
}

func (d *LibraryDependency) Clone() entity.Data {
	c := *d
	return &c
}

func (d *LibraryDependency) Equal(o entity.Data) bool {
	return d.EqualIgnoringSource(o) && d.Source() == o.Source()
}

func (d *LibraryDependency) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*LibraryDependency)
	return ok && other.Library == d.Library && other.Scope == d.Scope
}

func (d *LibraryDependency) HashContent(w io.Writer) { writeFields(w, d.Library.String(), d.Scope) }

// Facet is an optional module extension.
type Facet struct {
	entity.Base `yaml:"-"`
	Name        string `yaml:"name"`
	Config      string `yaml:"config,omitempty"`
}

// NewFacet returns a facet named name from src.
func NewFacet(name string, src entity.Source) *Facet {
	return &Facet{Base: entity.NewBase(src), Name: name}
}

func (f *Facet) EntityType() string { return "Facet" }

func (f *Facet) Clone() entity.Data {
	c := *f
	return &c
}

func (f *Facet) Equal(o entity.Data) bool {
	return f.EqualIgnoringSource(o) && f.Source() == o.Source()
}

func (f *Facet) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Facet)
	return ok && other.Name == f.Name && other.Config == f.Config
}

func (f *Facet) HashContent(w io.Writer) { writeFields(w, f.Name, f.Config) }

// Named is a generic entity with a symbolic id.
type Named struct {
	entity.Base `yaml:"-"`
	Name        string `yaml:"name"`
	Note        string `yaml:"note,omitempty"`
}

// NewNamed returns a named entity from src.
func NewNamed(name string, src entity.Source) *Named {
	return &Named{Base: entity.NewBase(src), Name: name}
}

func (n *Named) EntityType() string { return "Named" }

func (n *Named) SymbolicID() entity.SymbolicID { return entity.NameID{Type: "Named", Name: n.Name} }

func (n *Named) Clone() entity.Data {
	c := *n
	return &c
}

func (n *Named) Equal(o entity.Data) bool {
	return n.EqualIgnoringSource(o) && n.Source() == o.Source()
}

func (n *Named) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Named)
	return ok && other.Name == n.Name && other.Note == n.Note
}

func (n *Named) HashContent(w io.Writer) { writeFields(w, n.Name, n.Note) }

// NamedChild is a child of Named without a symbolic id.
type NamedChild struct {
	entity.Base `yaml:"-"`
	Value       string `yaml:"value"`
}

// NewNamedChild returns a child with value from src.
func NewNamedChild(value string, src entity.Source) *NamedChild {
	return &NamedChild{Base: entity.NewBase(src), Value: value}
}

func (n *NamedChild) EntityType() string { return "NamedChild" }

func (n *NamedChild) Clone() entity.Data {
	c := *n
	return &c
}

func (n *NamedChild) Equal(o entity.Data) bool {
	return n.EqualIgnoringSource(o) && n.Source() == o.Source()
}

func (n *NamedChild) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*NamedChild)
	return ok && other.Value == n.Value
}

func (n *NamedChild) HashContent(w io.Writer) { writeFields(w, n.Value) }

// node is the content shared by the Left, Middle and Right node types.
type node struct {
	entity.Base `yaml:"-"`
	Data        string `yaml:"data"`
}

func (n *node) equal(o *node) bool { return o != nil && o.Data == n.Data }

// Left is a leaf of the abstract node tree.
type Left struct{ node }

// NewLeft returns a left node from src.
func NewLeft(data string, src entity.Source) *Left {
	return &Left{node{Base: entity.NewBase(src), Data: data}}
}

func (l *Left) EntityType() string { return "Left" }

func (l *Left) Clone() entity.Data {
	c := *l
	return &c
}

func (l *Left) Equal(o entity.Data) bool {
	return l.EqualIgnoringSource(o) && l.Source() == o.Source()
}

func (l *Left) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Left)
	return ok && l.equal(&other.node)
}

func (l *Left) HashContent(w io.Writer) { writeFields(w, l.Data) }

// Middle is an inner node of the abstract node tree.
type Middle struct{ node }

// NewMiddle returns a middle node from src.
func NewMiddle(data string, src entity.Source) *Middle {
	return &Middle{node{Base: entity.NewBase(src), Data: data}}
}

func (m *Middle) EntityType() string { return "Middle" }

func (m *Middle) Clone() entity.Data {
	c := *m
	return &c
}

func (m *Middle) Equal(o entity.Data) bool {
	return m.EqualIgnoringSource(o) && m.Source() == o.Source()
}

func (m *Middle) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Middle)
	return ok && m.equal(&other.node)
}

func (m *Middle) HashContent(w io.Writer) { writeFields(w, m.Data) }

// Right is a leaf of the abstract node tree.
type Right struct{ node }

// NewRight returns a right node from src.
func NewRight(data string, src entity.Source) *Right {
	return &Right{node{Base: entity.NewBase(src), Data: data}}
}

func (r *Right) EntityType() string { return "Right" }

func (r *Right) Clone() entity.Data {
	c := *r
	return &c
}

func (r *Right) Equal(o entity.Data) bool {
	return r.EqualIgnoringSource(o) && r.Source() == o.Source()
}

func (r *Right) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Right)
	return ok && r.equal(&other.node)
}

func (r *Right) HashContent(w io.Writer) { writeFields(w, r.Data) }

// OoParent holds at most one OoChild.
type OoParent struct {
	entity.Base `yaml:"-"`
	Name        string `yaml:"name"`
}

// NewOoParent returns a one-to-one parent from src.
func NewOoParent(name string, src entity.Source) *OoParent {
	return &OoParent{Base: entity.NewBase(src), Name: name}
}

func (p *OoParent) EntityType() string { return "OoParent" }

func (p *OoParent) Clone() entity.Data {
	c := *p
	return &c
}

func (p *OoParent) Equal(o entity.Data) bool {
	return p.EqualIgnoringSource(o) && p.Source() == o.Source()
}

func (p *OoParent) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*OoParent)
	return ok && other.Name == p.Name
}

func (p *OoParent) HashContent(w io.Writer) { writeFields(w, p.Name) }

// OoChild cannot exist without its OoParent.
type OoChild struct {
	entity.Base `yaml:"-"`
	Value       string `yaml:"value"`
}

// NewOoChild returns a one-to-one child from src.
func NewOoChild(value string, src entity.Source) *OoChild {
	return &OoChild{Base: entity.NewBase(src), Value: value}
}

func (c *OoChild) EntityType() string { return "OoChild" }

func (c *OoChild) Clone() entity.Data {
	cp := *c
	return &cp
}

func (c *OoChild) Equal(o entity.Data) bool {
	return c.EqualIgnoringSource(o) && c.Source() == o.Source()
}

func (c *OoChild) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*OoChild)
	return ok && other.Value == c.Value
}

func (c *OoChild) HashContent(w io.Writer) { writeFields(w, c.Value) }

// Linked refers to other entities through soft links only.
type Linked struct {
	entity.Base `yaml:"-"`
	Name        string              `yaml:"name"`
	Links       []entity.SymbolicID `yaml:"links,omitempty"`
}

// NewLinked returns an entity named name linking to links, from src.
func NewLinked(name string, src entity.Source, links ...entity.SymbolicID) *Linked {
	return &Linked{Base: entity.NewBase(src), Name: name, Links: links}
}

func (l *Linked) EntityType() string { return "Linked" }

func (l *Linked) SymbolicID() entity.SymbolicID { return entity.NameID{Type: "Linked", Name: l.Name} }

func (l *Linked) SoftLinks() []entity.SymbolicID { return slices.Clone(l.Links) }

func (l *Linked) UpdateLink(old, updated entity.SymbolicID) bool {
	return updateLinks(l.Links, old, updated)
}

func (l *Linked) Clone() entity.Data {
	c := *l
	c.Links = slices.Clone(l.Links)
	return &c
}

func (l *Linked) Equal(o entity.Data) bool {
	return l.EqualIgnoringSource(o) && l.Source() == o.Source()
}

func (l *Linked) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Linked)
	return ok && other.Name == l.Name && slices.Equal(other.Links, l.Links)
}

func (l *Linked) HashContent(w io.Writer) {
	writeFields(w, l.Name, strings.Join(linkStrings(l.Links), "\n"))
}
