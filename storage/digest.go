package storage

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/entitystore/digest"
)

// refGroupPrefix marks reference groups in a storage digest.
const refGroupPrefix = "ref:"

// Digest builds a Merkle tree of r. Entities are grouped by type and source;
// references are grouped by connection and hashed with the content of both
// ends and the child position. Ids do not take part, so two storages holding
// the same graph have the same root.
func Digest(r Reader) *digest.Tree {
	tree := digest.NewTree()
	reg := r.Registry()
	g, _ := errgroup.WithContext(context.Background())
	for _, t := range r.Types() {
		g.Go(func() error {
			name := reg.Name(t)
			for d := range r.Entities(t) {
				src := ""
				if s := d.Source(); s != nil {
					src = s.String()
				}
				tree.Insert(digest.GroupKey{Type: name, Source: src}, digest.ContentHash(d))
			}
			return nil
		})
	}
	for _, conn := range r.Connections() {
		g.Go(func() error {
			key := digest.GroupKey{Type: refGroupPrefix + reg.Describe(conn)}
			for _, p := range r.refTable().Parents(conn) {
				pd := r.Get(p)
				if pd == nil {
					continue
				}
				ph := digest.ContentHash(pd)
				for i, k := range r.Children(conn, p) {
					kd := r.Get(k)
					if kd == nil {
						continue
					}
					tree.Insert(key, digest.Combine("ref", ph, digest.ContentHash(kd),
						digest.StringHash("pos", strconv.Itoa(i))))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return tree
}

// HasSameEntities reports whether b and other hold the same graph, compared
// through their digests.
func (b *Builder) HasSameEntities(other Reader) bool {
	return Digest(b).Root() == Digest(other).Root()
}

// DigestDiff lists the digest groups that differ between a and b.
func DigestDiff(a, b Reader) []digest.GroupKey {
	ta, tb := Digest(a), Digest(b)
	aOnly, bOnly, divergent := ta.Diff(tb.GroupHashes())
	var out []digest.GroupKey
	for _, h := range append(append(aOnly, divergent...), bOnly...) {
		if k, ok := ta.GroupOf(h); ok {
			out = append(out, k)
		} else if k, ok := tb.GroupOf(h); ok {
			out = append(out, k)
		}
	}
	return out
}
