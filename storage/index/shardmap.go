package index

import (
	"hash/maphash"
	"iter"
	"maps"
	"sync/atomic"
)

const shardCount = 64

var (
	shardSeed = maphash.MakeSeed()
	// generations hands out owner tags for maps private to one writer.
	generations atomic.Uint64
)

func nextGeneration() uint64 { return generations.Add(1) }

// shardMap is a map split into a fixed number of shards. A clone shares every
// shard with its origin and copies a shard on the first write to it, so the
// first write after a freeze costs one shard instead of the whole map.
type shardMap[K comparable, V any] struct {
	shards [shardCount]map[K]V
	// owned has bit i set when shards[i] is private to this map.
	owned uint64
	n     int
	// gen is the generation of the writer that owns this map.
	gen uint64
}

func newShardMap[K comparable, V any](gen uint64) *shardMap[K, V] {
	return &shardMap[K, V]{owned: ^uint64(0), gen: gen}
}

func shardOf[K comparable](k K) int {
	return int(maphash.Comparable(shardSeed, k) % shardCount)
}

// clone returns a map for the writer of gen that shares every shard with s.
// s must not be written afterwards.
func (s *shardMap[K, V]) clone(gen uint64) *shardMap[K, V] {
	c := *s
	c.owned = 0
	c.gen = gen
	return &c
}

func (s *shardMap[K, V]) get(k K) (V, bool) {
	v, ok := s.shards[shardOf(k)][k]
	return v, ok
}

func (s *shardMap[K, V]) has(k K) bool {
	_, ok := s.shards[shardOf(k)][k]
	return ok
}

func (s *shardMap[K, V]) set(k K, v V) {
	w := s.writable(shardOf(k))
	if _, ok := w[k]; !ok {
		s.n++
	}
	w[k] = v
}

func (s *shardMap[K, V]) delete(k K) {
	i := shardOf(k)
	if _, ok := s.shards[i][k]; !ok {
		return
	}
	delete(s.writable(i), k)
	s.n--
}

func (s *shardMap[K, V]) len() int { return s.n }

// all iterates in no particular order.
func (s *shardMap[K, V]) all() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, shard := range s.shards {
			for k, v := range shard {
				if !yield(k, v) {
					return
				}
			}
		}
	}
}

func (s *shardMap[K, V]) keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range s.all() {
			if !yield(k) {
				return
			}
		}
	}
}

func (s *shardMap[K, V]) writable(i int) map[K]V {
	bit := uint64(1) << i
	if s.owned&bit == 0 {
		s.shards[i] = maps.Clone(s.shards[i])
		s.owned |= bit
	}
	if s.shards[i] == nil {
		s.shards[i] = map[K]V{}
	}
	return s.shards[i]
}
