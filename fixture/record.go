package fixture

import (
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/teranos/entitystore/entity"
)

// Record is an entity of a schema-declared type. Its content is a flat set
// of string fields.
type Record struct {
	entity.Base `yaml:"-"`
	Type        string            `yaml:"type"`
	Fields      map[string]string `yaml:"fields,omitempty"`

	decl *TypeDecl
}

func recordFactory(decl *TypeDecl) entity.Factory {
	return func() entity.Data {
		return &Record{Type: decl.Name, Fields: map[string]string{}, decl: decl}
	}
}

func (r *Record) EntityType() string { return r.Type }

// SymbolicID returns Type:value of the key field, or nil for types without
// a key.
func (r *Record) SymbolicID() entity.SymbolicID {
	if r.decl == nil || r.decl.Key == "" {
		return nil
	}
	return entity.NameID{Type: r.Type, Name: r.Fields[r.decl.Key]}
}

func (r *Record) SoftLinks() []entity.SymbolicID {
	if r.decl == nil {
		return nil
	}
	var out []entity.SymbolicID
	for _, f := range r.decl.Links {
		if id, ok := parseNameID(r.Fields[f]); ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *Record) UpdateLink(old, updated entity.SymbolicID) bool {
	if r.decl == nil {
		return false
	}
	changed := false
	for _, f := range r.decl.Links {
		if id, ok := parseNameID(r.Fields[f]); ok && entity.SymbolicID(id) == old {
			r.Fields[f] = updated.String()
			changed = true
		}
	}
	return changed
}

func (r *Record) Clone() entity.Data {
	c := *r
	c.Fields = maps.Clone(r.Fields)
	return &c
}

func (r *Record) Equal(o entity.Data) bool {
	return r.EqualIgnoringSource(o) && r.Source() == o.Source()
}

func (r *Record) EqualIgnoringSource(o entity.Data) bool {
	other, ok := o.(*Record)
	return ok && other.Type == r.Type && maps.Equal(other.Fields, r.Fields)
}

func (r *Record) HashContent(w io.Writer) {
	_, _ = io.WriteString(w, r.Type)
	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		_, _ = io.WriteString(w, "\x00"+k+"="+r.Fields[k])
	}
}

func parseNameID(s string) (entity.NameID, bool) {
	typ, name, ok := strings.Cut(s, ":")
	if !ok || typ == "" {
		return entity.NameID{}, false
	}
	return entity.NameID{Type: typ, Name: name}, true
}
