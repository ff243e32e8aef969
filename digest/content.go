// Package digest provides content hashes of entity data and a Merkle tree of
// storage state digests.
//
// A content hash covers the entity type and the canonical content an entity
// writes through HashContent. Slot and source are excluded: two entities with
// the same content produce the same hash wherever they live. The Merkle tree
// groups hashes by (type, source) so two storages can be compared group by
// group.
package digest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/teranos/entitystore/entity"
)

// Hash is a SHA-256 content hash used as a node identifier in the Merkle tree.
type Hash = [32]byte

// ContentHash computes a deterministic SHA-256 digest of d's type and
// content, ignoring slot and source.
func ContentHash(d entity.Data) Hash {
	h := sha256.New()

	// Domain separators keep the type name from running into the content.
	h.Write([]byte("t:"))
	h.Write([]byte(d.EntityType()))
	h.Write([]byte("\nc:"))
	d.HashContent(h)

	var out Hash
	h.Sum(out[:0])
	return out
}

// Combine hashes parts in order under a domain tag. It is used for leaves
// made of several hashes, such as references.
func Combine(tag string, parts ...Hash) Hash {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte(":"))
	for _, p := range parts {
		h.Write(p[:])
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// StringHash hashes s under a domain tag.
func StringHash(tag, s string) Hash {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte(":"))
	h.Write([]byte(s))
	var out Hash
	h.Sum(out[:0])
	return out
}

// HexHash returns the hex-encoded string of a Hash (for logging/debugging).
func HexHash(h Hash) string {
	return hex.EncodeToString(h[:])
}
