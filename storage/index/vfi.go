package index

import (
	"maps"
	"slices"

	"github.com/teranos/entitystore/entity"
)

// VirtualFileIndex maps entity properties to virtual file URLs and back.
// URLs are plain strings. The property map of an entity is replaced, never
// changed in place, so clones may share it.
type VirtualFileIndex struct {
	props *shardMap[entity.EntityID, map[string][]string]
	urls  *multiIndex[string]
}

func newVirtualFileIndex() *VirtualFileIndex {
	return &VirtualFileIndex{
		props: newShardMap[entity.EntityID, map[string][]string](nextGeneration()),
		urls:  newMultiIndex[string](),
	}
}

func (v *VirtualFileIndex) clone() *VirtualFileIndex {
	return &VirtualFileIndex{props: v.props.clone(nextGeneration()), urls: v.urls.clone()}
}

func (v *VirtualFileIndex) has(id entity.EntityID) bool {
	return v.props.has(id)
}

func (v *VirtualFileIndex) propsOf(id entity.EntityID) map[string][]string {
	p, _ := v.props.get(id)
	return p
}

// URLs returns the URLs stored for property of id.
func (v *VirtualFileIndex) URLs(id entity.EntityID, property string) []string {
	return slices.Clone(v.propsOf(id)[property])
}

// Properties lists the indexed properties of id.
func (v *VirtualFileIndex) Properties(id entity.EntityID) []string {
	return slices.Sorted(maps.Keys(v.propsOf(id)))
}

// Find returns the entities referring to url in ascending id order.
func (v *VirtualFileIndex) Find(url string) []entity.EntityID {
	return v.urls.ids(url)
}

// Entities lists the entities with at least one URL.
func (v *VirtualFileIndex) Entities() []entity.EntityID {
	return slices.Sorted(v.props.keys())
}

func (v *VirtualFileIndex) set(id entity.EntityID, property string, urls []string) {
	p := maps.Clone(v.propsOf(id))
	if len(urls) == 0 {
		delete(p, property)
	} else {
		if p == nil {
			p = map[string][]string{}
		}
		p[property] = slices.Clone(urls)
	}
	if len(p) == 0 {
		v.props.delete(id)
	} else {
		v.props.set(id, p)
	}
	var all []string
	for _, name := range slices.Sorted(maps.Keys(p)) {
		all = append(all, p[name]...)
	}
	v.urls.set(id, all)
}

func (v *VirtualFileIndex) removeEntity(id entity.EntityID) {
	v.props.delete(id)
	v.urls.remove(id)
}

// MutableVirtualFileIndex writes through to the virtual file index of a
// MutableIndexes. A handle stays valid across freezes.
type MutableVirtualFileIndex struct {
	idx *MutableIndexes
}

// MutableVirtualFiles returns a writable handle on the virtual file index.
func (m *MutableIndexes) MutableVirtualFiles() MutableVirtualFileIndex {
	return MutableVirtualFileIndex{idx: m}
}

// Index replaces the URLs of property of id. An empty list removes them.
func (mv MutableVirtualFileIndex) Index(id entity.EntityID, property string, urls ...string) {
	if len(urls) == 0 && len(mv.idx.vfi.propsOf(id)[property]) == 0 {
		return
	}
	mv.idx.writableVFI().set(id, property, urls)
}

// RemoveEntity drops every URL of id.
func (mv MutableVirtualFileIndex) RemoveEntity(id entity.EntityID) {
	if !mv.idx.vfi.has(id) {
		return
	}
	mv.idx.writableVFI().removeEntity(id)
}

// URLs returns the URLs stored for property of id.
func (mv MutableVirtualFileIndex) URLs(id entity.EntityID, property string) []string {
	return mv.idx.vfi.URLs(id, property)
}

// Find returns the entities referring to url.
func (mv MutableVirtualFileIndex) Find(url string) []entity.EntityID {
	return mv.idx.vfi.Find(url)
}

// CopyVirtualFiles copies the virtual file entries of every id in remap from
// src into m under the remapped id.
func (m *MutableIndexes) CopyVirtualFiles(src Reader, remap map[entity.EntityID]entity.EntityID) {
	from := src.VirtualFiles()
	for _, id := range from.Entities() {
		to, ok := remap[id]
		if !ok {
			continue
		}
		vfi := m.writableVFI()
		for property, urls := range from.propsOf(id) {
			vfi.set(to, property, urls)
		}
	}
}
