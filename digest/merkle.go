package digest

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sync"
)

// Tree is an in-memory Merkle tree over the entities of a storage.
//
// Structure:
//
//	Root
//	└── Group (type, source pair)
//	    └── Leaf (content hash, with multiplicity)
//
// Leaves are a multiset: two entities with equal content in one group both
// count. The root is recomputed lazily from dirty groups.
type Tree struct {
	mu     sync.RWMutex
	groups map[Hash]*group // keyed by GroupKey hash
	dirty  bool            // root needs recomputation
	root   Hash
}

// group is one (type, source) bucket in the tree.
type group struct {
	key    GroupKey
	leaves map[Hash]int
	dirty  bool
	hash   Hash
}

// GroupKey identifies one group: the entities of one type from one source.
type GroupKey struct {
	Type   string
	Source string
}

// groupKeyHash returns a deterministic hash of a GroupKey.
func groupKeyHash(k GroupKey) Hash {
	return StringHash("gk", k.Type+"\x00"+k.Source)
}

// NewTree creates an empty Merkle tree.
func NewTree() *Tree {
	return &Tree{
		groups: make(map[Hash]*group),
	}
}

// Insert adds one occurrence of contentHash under the given group.
func (t *Tree) Insert(key GroupKey, contentHash Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gkh := groupKeyHash(key)
	g, ok := t.groups[gkh]
	if !ok {
		g = &group{
			key:    key,
			leaves: make(map[Hash]int),
		}
		t.groups[gkh] = g
	}

	g.leaves[contentHash]++
	g.dirty = true
	t.dirty = true
}

// Remove deletes one occurrence of contentHash from the given group.
// If the group becomes empty, it is removed from the tree.
func (t *Tree) Remove(key GroupKey, contentHash Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gkh := groupKeyHash(key)
	g, ok := t.groups[gkh]
	if !ok {
		return
	}

	n, exists := g.leaves[contentHash]
	if !exists {
		return
	}
	if n == 1 {
		delete(g.leaves, contentHash)
	} else {
		g.leaves[contentHash] = n - 1
	}
	g.dirty = true
	t.dirty = true

	if len(g.leaves) == 0 {
		delete(t.groups, gkh)
	}
}

// Root returns the current Merkle root hash. An empty tree has a zero hash.
func (t *Tree) Root() Hash {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return t.root
	}

	t.recompute()
	return t.root
}

// GroupHashes returns a map of group key hash → group hash for all groups.
func (t *Tree) GroupHashes() map[Hash]Hash {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make(map[Hash]Hash, len(t.groups))
	for gkh, g := range t.groups {
		if g.dirty {
			g.recomputeHash()
		}
		result[gkh] = g.hash
	}
	return result
}

// Groups returns the keys of all groups ordered by type then source.
func (t *Tree) Groups() []GroupKey {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]GroupKey, 0, len(t.groups))
	for _, g := range t.groups {
		keys = append(keys, g.key)
	}
	slices.SortFunc(keys, func(a, b GroupKey) int {
		if a.Type != b.Type {
			return cmp.Compare(a.Type, b.Type)
		}
		return cmp.Compare(a.Source, b.Source)
	})
	return keys
}

// GroupOf returns the key whose hash is gkh.
func (t *Tree) GroupOf(gkh Hash) (GroupKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.groups[gkh]
	if !ok {
		return GroupKey{}, false
	}
	return g.key, true
}

// Size returns the total number of leaves, counting multiplicity.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, g := range t.groups {
		for _, c := range g.leaves {
			n += c
		}
	}
	return n
}

// GroupCount returns the number of (type, source) groups in the tree.
func (t *Tree) GroupCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups)
}

// Diff compares this tree's group hashes against other group hashes and
// returns three sets:
//   - localOnly: group key hashes that exist locally but not in other
//   - otherOnly: group key hashes that exist in other but not locally
//   - divergent: group key hashes that exist in both with different hashes
func (t *Tree) Diff(otherGroups map[Hash]Hash) (localOnly, otherOnly []Hash, divergent []Hash) {
	local := t.GroupHashes()

	for gkh, h := range local {
		otherHash, exists := otherGroups[gkh]
		if !exists {
			localOnly = append(localOnly, gkh)
		} else if otherHash != h {
			divergent = append(divergent, gkh)
		}
	}

	for gkh := range otherGroups {
		if _, exists := local[gkh]; !exists {
			otherOnly = append(otherOnly, gkh)
		}
	}

	sortHashes(localOnly)
	sortHashes(otherOnly)
	sortHashes(divergent)
	return
}

// recompute recalculates the root hash from group hashes.
// Caller must hold t.mu.
func (t *Tree) recompute() {
	if len(t.groups) == 0 {
		t.root = Hash{}
		t.dirty = false
		return
	}

	hashes := make([]Hash, 0, len(t.groups))
	for _, g := range t.groups {
		if g.dirty {
			g.recomputeHash()
		}
		hashes = append(hashes, g.hash)
	}

	sortHashes(hashes)

	h := sha256.New()
	h.Write([]byte("root:"))
	for _, gh := range hashes {
		h.Write(gh[:])
	}
	h.Sum(t.root[:0])
	t.dirty = false
}

// recomputeHash recalculates the group hash from its leaves.
func (g *group) recomputeHash() {
	hashes := make([]Hash, 0, len(g.leaves))
	for h := range g.leaves {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)

	hasher := sha256.New()
	hasher.Write([]byte("grp:"))
	// The key is part of the hash so equal leaves under different
	// (type, source) pairs differ.
	hasher.Write([]byte(g.key.Type))
	hasher.Write([]byte("\x00"))
	hasher.Write([]byte(g.key.Source))
	hasher.Write([]byte("\x00"))
	var count [8]byte
	for _, h := range hashes {
		hasher.Write(h[:])
		binary.BigEndian.PutUint64(count[:], uint64(g.leaves[h]))
		hasher.Write(count[:])
	}
	hasher.Sum(g.hash[:0])
	g.dirty = false
}

// sortHashes sorts a slice of hashes lexicographically.
func sortHashes(hashes []Hash) {
	slices.SortFunc(hashes, func(a, b Hash) int {
		return bytes.Compare(a[:], b[:])
	})
}
