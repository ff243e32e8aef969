package storage

import (
	"github.com/teranos/entitystore/digest"
	"github.com/teranos/entitystore/entity"
)

// EntityDump is the YAML view of one stored entity.
type EntityDump struct {
	ID          string              `yaml:"id"`
	Type        string              `yaml:"type"`
	Source      string              `yaml:"source,omitempty"`
	SymbolicID  string              `yaml:"symbolic_id,omitempty"`
	ContentHash string              `yaml:"content_hash"`
	Data        entity.Data         `yaml:"data,omitempty"`
	Parents     map[string]string   `yaml:"parents,omitempty"`
	Children    map[string][]string `yaml:"children,omitempty"`
}

// StorageDump is the YAML view of a storage, attached to reports.
type StorageDump struct {
	Entities []EntityDump `yaml:"entities"`
	// Truncated counts the entities left out by the size cap.
	Truncated int `yaml:"truncated,omitempty"`
}

// DumpEntity describes the entity with id, which must exist in r.
func DumpEntity(r Reader, id entity.EntityID) EntityDump {
	reg := r.Registry()
	d := r.Get(id)
	out := EntityDump{
		ID:   id.String(),
		Type: reg.Name(id.Type()),
	}
	if d == nil {
		return out
	}
	out.Data = d
	out.ContentHash = digest.HexHash(digest.ContentHash(d))
	if src := d.Source(); src != nil {
		out.Source = src.String()
	}
	if sym := entity.SymbolicIDOf(d); sym != nil {
		out.SymbolicID = sym.String()
	}
	for conn, p := range r.ParentsOf(id) {
		if out.Parents == nil {
			out.Parents = map[string]string{}
		}
		out.Parents[reg.Describe(conn)] = p.String()
	}
	for conn, kids := range r.ChildrenOf(id) {
		if out.Children == nil {
			out.Children = map[string][]string{}
		}
		names := make([]string, len(kids))
		for i, k := range kids {
			names[i] = k.String()
		}
		out.Children[reg.Describe(conn)] = names
	}
	return out
}

// Dump describes every entity of r in type and slot order, at most
// maxEntities of them when maxEntities is positive.
func Dump(r Reader, maxEntities int) StorageDump {
	var out StorageDump
	for _, t := range r.Types() {
		for d := range r.Entities(t) {
			if maxEntities > 0 && len(out.Entities) >= maxEntities {
				out.Truncated++
				continue
			}
			out.Entities = append(out.Entities, DumpEntity(r, entity.NewEntityID(d.Slot(), t)))
		}
	}
	return out
}
