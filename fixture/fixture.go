package fixture

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage"
)

// File is the YAML layout of a fixture.
type File struct {
	// Schema is the schema path, relative to the fixture file.
	Schema   string       `yaml:"schema"`
	Entities []EntityDecl `yaml:"entities"`
}

// EntityDecl is one entity of a fixture. Parents refer to entities declared
// earlier in the same file; the connection is picked from the schema by the
// two types.
type EntityDecl struct {
	Ref         string            `yaml:"ref,omitempty"`
	Type        string            `yaml:"type"`
	Version     string            `yaml:"version,omitempty"`
	Source      string            `yaml:"source"`
	Placeholder bool              `yaml:"placeholder,omitempty"`
	Fields      map[string]string `yaml:"fields,omitempty"`
	Parents     []string          `yaml:"parents,omitempty"`
}

// Loaded is a fixture applied to a fresh builder.
type Loaded struct {
	Schema  *Schema
	Builder *storage.Builder
	// Refs maps fixture refs to entity ids.
	Refs map[string]entity.EntityID
}

// Open parses the fixture at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fixture %s", path)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "fixture %s: %v", path, err)
	}
	return &f, nil
}

// Load opens the fixture at path with its own schema and applies it to a new
// builder created with opts.
func Load(path string, opts ...storage.Option) (*Loaded, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	if f.Schema == "" {
		return nil, errors.NewInvalidRequestError("fixture %s names no schema", path)
	}
	s, err := LoadSchema(filepath.Join(filepath.Dir(path), f.Schema))
	if err != nil {
		return nil, err
	}
	return s.apply(path, f, opts)
}

// LoadWith opens the fixture at path and applies it to a new builder over
// the registry of s, so the result can be merged with other builders of s.
// The schema named in the file is not read.
func (s *Schema) LoadWith(path string, opts ...storage.Option) (*Loaded, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return s.apply(path, f, opts)
}

func (s *Schema) apply(path string, f *File, opts []storage.Option) (*Loaded, error) {
	b := storage.NewBuilder(s.Reg, opts...)
	refs, err := s.Build(f, b)
	if err != nil {
		return nil, errors.Wrapf(err, "fixture %s", path)
	}
	return &Loaded{Schema: s, Builder: b, Refs: refs}, nil
}

// Build adds the entities of f to b in file order and returns the ids of
// the entities that declare a ref.
func (s *Schema) Build(f *File, b *storage.Builder) (map[string]entity.EntityID, error) {
	start := time.Now()
	log := logger.ComponentLogger("fixture")
	refs := map[string]entity.EntityID{}
	for i, d := range f.Entities {
		id, err := s.add(b, d, refs)
		if err != nil {
			return nil, errors.Wrapf(err, "entity %d (%s)", i, d.Type)
		}
		if d.Ref != "" {
			if _, dup := refs[d.Ref]; dup {
				return nil, errors.Wrapf(errors.ErrConflict, "entity %d: ref %q declared twice", i, d.Ref)
			}
			refs[d.Ref] = id
		}
	}
	log.Debugw("Fixture built",
		logger.FieldBuilderID, b.ID(),
		logger.FieldCount, len(f.Entities),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return refs, nil
}

func (s *Schema) add(b *storage.Builder, d EntityDecl, refs map[string]entity.EntityID) (entity.EntityID, error) {
	t, factory, err := s.Resolver.Resolve(entity.TypeDescriptor{
		Name:          d.Type,
		Version:       d.Version,
		FormatVersion: s.formatVersion,
	})
	if err != nil {
		return 0, err
	}
	rec := factory().(*Record)
	for k, v := range d.Fields {
		rec.Fields[k] = v
	}
	if d.Source != "" {
		if d.Placeholder {
			rec.SetSource(entity.PlaceholderName(d.Source))
		} else {
			rec.SetSource(entity.SourceName(d.Source))
		}
	}

	links := make([]storage.Ref, 0, len(d.Parents))
	for _, p := range d.Parents {
		parent, ok := refs[p]
		if !ok {
			return 0, errors.NewNotFoundError("parent ref %q", p)
		}
		conn, err := s.connectionFor(parent.Type(), t)
		if err != nil {
			return 0, err
		}
		links = append(links, storage.ParentRef(conn, parent))
	}
	return b.AddEntity(rec, links...)
}
