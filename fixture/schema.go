// Package fixture loads entity graphs from YAML fixture files into storage
// builders. Entity types and their connections are declared in a TOML schema
// file, so fixtures work without compiled entity types.
package fixture

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/version"
)

// SchemaFile is the TOML layout of a schema file.
type SchemaFile struct {
	FormatVersion string           `toml:"format_version"`
	Types         []TypeDecl       `toml:"types"`
	Connections   []ConnectionDecl `toml:"connections"`
}

// TypeDecl declares one entity type.
type TypeDecl struct {
	Name       string   `toml:"name"`
	Version    string   `toml:"version"`
	Supertypes []string `toml:"supertypes"`
	Abstract   bool     `toml:"abstract"`
	// Key names the field whose value forms the symbolic id.
	Key string `toml:"key"`
	// Links name the fields holding symbolic ids of other entities, written
	// as "Type:name".
	Links []string `toml:"links"`
}

// ConnectionDecl declares one connection between two types.
type ConnectionDecl struct {
	Parent         string `toml:"parent"`
	Child          string `toml:"child"`
	Kind           string `toml:"kind"`
	ParentNullable bool   `toml:"parent_nullable"`
	ChildNullable  bool   `toml:"child_nullable"`
}

// Schema is a registry populated from a schema file.
type Schema struct {
	Reg      *entity.Registry
	Resolver *entity.RegistryResolver

	formatVersion string
	decls         map[entity.TypeID]*TypeDecl
	conns         []*entity.ConnectionID
}

// LoadSchema reads and registers the schema at path.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schema %s", path)
	}
	s, err := ParseSchema(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	return s, nil
}

// ParseSchema registers the schema in data with a fresh registry. Unknown
// keys are rejected.
func ParseSchema(data string) (*Schema, error) {
	var file SchemaFile
	md, err := toml.Decode(data, &file)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.NewInvalidRequestError("unknown schema keys: %s", strings.Join(keys, ", "))
	}
	ok, err := version.Compatible(file.FormatVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewUnsupportedError("schema format version %s", file.FormatVersion)
	}

	reg := entity.NewRegistry()
	s := &Schema{
		Reg:           reg,
		Resolver:      entity.NewRegistryResolver(reg),
		formatVersion: file.FormatVersion,
		decls:         map[entity.TypeID]*TypeDecl{},
	}
	for i := range file.Types {
		decl := &file.Types[i]
		id, err := reg.Register(entity.TypeSpec{
			Name:       decl.Name,
			Version:    decl.Version,
			Supertypes: decl.Supertypes,
			Abstract:   decl.Abstract,
		})
		if err != nil {
			return nil, err
		}
		if decl.Key != "" && decl.Abstract {
			return nil, errors.NewInvalidRequestError("abstract type %s cannot have a key", decl.Name)
		}
		s.decls[id] = decl
		if !decl.Abstract {
			s.Resolver.Bind(id, recordFactory(decl))
		}
	}
	for _, c := range file.Connections {
		conn, err := s.connection(c)
		if err != nil {
			return nil, err
		}
		s.conns = append(s.conns, conn)
	}
	return s, nil
}

func (s *Schema) connection(c ConnectionDecl) (*entity.ConnectionID, error) {
	kind, ok := entity.ParseConnectionType(c.Kind)
	if !ok {
		return nil, errors.NewInvalidRequestError("connection %s -> %s: unknown kind %q", c.Parent, c.Child, c.Kind)
	}
	parent, err := s.declared(c.Parent)
	if err != nil {
		return nil, err
	}
	child, err := s.declared(c.Child)
	if err != nil {
		return nil, err
	}
	if s.decls[child].Abstract != (kind == entity.OneToAbstractMany || kind == entity.AbstractOneToOne) {
		return nil, errors.NewInvalidRequestError("connection %s -> %s: kind %s does not match child type", c.Parent, c.Child, kind)
	}
	if s.decls[parent].Abstract && kind != entity.AbstractOneToOne {
		return nil, errors.NewInvalidRequestError("connection %s -> %s: abstract parent needs %s", c.Parent, c.Child, entity.AbstractOneToOne)
	}
	return s.Reg.Connection(parent, child, kind, c.ParentNullable, c.ChildNullable), nil
}

func (s *Schema) declared(name string) (entity.TypeID, error) {
	id, ok := s.Reg.Lookup(name)
	if !ok || s.decls[id] == nil {
		return 0, errors.NewNotFoundError("type %s", name)
	}
	return id, nil
}

// Connections lists the declared connections in file order.
func (s *Schema) Connections() []*entity.ConnectionID { return s.conns }

// connectionFor returns the single declared connection linking a parent of
// type parent to a child of type child.
func (s *Schema) connectionFor(parent, child entity.TypeID) (*entity.ConnectionID, error) {
	var found []*entity.ConnectionID
	for _, c := range s.conns {
		if s.Reg.IsAssignable(c.Parent, parent) && s.Reg.IsAssignable(c.Child, child) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.NewNotFoundError("no connection from %s to %s", s.Reg.Name(parent), s.Reg.Name(child))
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, c := range found {
			names[i] = s.Reg.Describe(c)
		}
		return nil, errors.NewInvalidRequestError("ambiguous connection from %s to %s: %s",
			s.Reg.Name(parent), s.Reg.Name(child), strings.Join(names, ", "))
	}
}

// String describes the schema for logs.
func (s *Schema) String() string {
	return fmt.Sprintf("schema(format %s, %d types, %d connections)", s.formatVersion, len(s.decls), len(s.conns))
}
