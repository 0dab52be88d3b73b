// Package shardmap implements the sharded, fairness-aware work routing
// structure described in spec.md §4.2 and §9: a map of shard-key to an
// offset-ordered queue of values, plus a looping, resumable iterator that
// visits every shard exactly once per traversal and remembers where it
// left off across calls so that no shard starves.
//
// It is deliberately generic and ordering-agnostic: callers decide what
// "takeable" means and what taking does, via the predicate and mutator
// passed to Take. This mirrors the teacher's split between the iteration
// mechanism and the work-eligibility policy layered on top of it.
package shardmap

import (
	"sort"
	"sync"
)

// Map routes values keyed by an arbitrary shard key, each shard holding an
// offset-ordered sub-map. The zero value is not usable; use New.
type Map[V any] struct {
	mu     sync.RWMutex
	shards map[any]*shard[V]
	order  []any
	index  map[any]int
}

type shard[V any] struct {
	mu      sync.Mutex
	offsets []int64
	values  map[int64]V
}

// New creates an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{
		shards: make(map[any]*shard[V]),
		index:  make(map[any]int),
	}
}

func newShard[V any]() *shard[V] {
	return &shard[V]{values: make(map[int64]V)}
}

// Put inserts or overwrites the value at (key, offset), creating the shard
// if it doesn't exist yet.
func (m *Map[V]) Put(key any, offset int64, v V) {
	sh := m.getOrCreateShard(key)
	sh.put(offset, v)
}

func (m *Map[V]) getOrCreateShard(key any) *shard[V] {
	m.mu.RLock()
	sh, ok := m.shards[key]
	m.mu.RUnlock()
	if ok {
		return sh
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.shards[key]; ok {
		return sh
	}
	sh = newShard[V]()
	m.shards[key] = sh
	m.index[key] = len(m.order)
	m.order = append(m.order, key)
	return sh
}

func (s *shard[V]) put(offset int64, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[offset]; !exists {
		i := sort.Search(len(s.offsets), func(i int) bool { return s.offsets[i] >= offset })
		s.offsets = append(s.offsets, 0)
		copy(s.offsets[i+1:], s.offsets[i:])
		s.offsets[i] = offset
	}
	s.values[offset] = v
}

// Get returns the value stored at (key, offset), if any.
func (m *Map[V]) Get(key any, offset int64) (V, bool) {
	m.mu.RLock()
	sh, ok := m.shards[key]
	m.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	return sh.get(offset)
}

func (s *shard[V]) get(offset int64) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[offset]
	return v, ok
}

// Remove deletes (key, offset) from its shard. It reports whether the
// value was present, and whether the shard is now empty.
func (m *Map[V]) Remove(key any, offset int64) (removed bool, shardEmpty bool) {
	m.mu.RLock()
	sh, ok := m.shards[key]
	m.mu.RUnlock()
	if !ok {
		return false, false
	}
	removed, empty := sh.remove(offset)
	return removed, empty
}

func (s *shard[V]) remove(offset int64) (removed bool, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[offset]; !ok {
		return false, len(s.values) == 0
	}
	delete(s.values, offset)
	i := sort.Search(len(s.offsets), func(i int) bool { return s.offsets[i] >= offset })
	if i < len(s.offsets) && s.offsets[i] == offset {
		s.offsets = append(s.offsets[:i], s.offsets[i+1:]...)
	}
	return true, len(s.values) == 0
}

// DropShard removes an entire shard (used for Key-mode garbage collection
// on success, and for rebalance cleanup). It is a no-op if the shard
// doesn't exist or isn't empty, unless force is true.
func (m *Map[V]) DropShard(key any, force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shards[key]
	if !ok {
		return
	}
	if !force {
		sh.mu.Lock()
		empty := len(sh.values) == 0
		sh.mu.Unlock()
		if !empty {
			return
		}
	}
	delete(m.shards, key)
	if i, ok := m.index[key]; ok {
		delete(m.index, key)
		m.order = append(m.order[:i], m.order[i+1:]...)
		for k, idx := range m.index {
			if idx > i {
				m.index[k] = idx - 1
			}
		}
	}
}

// ShardCount returns the number of live shards.
func (m *Map[V]) ShardCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shards)
}

// Len returns the total number of values across all shards.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		n += len(sh.values)
		sh.mu.Unlock()
	}
	return n
}

// Cursor remembers the shard key to resume traversal from. The zero value
// starts from the first shard in the map's current ordering.
type Cursor struct {
	key     any
	started bool
}

// TakeResult is one value taken from the map during a traversal.
type TakeResult[V any] struct {
	Key    any
	Offset int64
	Value  V
}

// Take performs one fair, resumable, depth-first traversal: starting at
// cursor's remembered shard (or the first shard if none), it visits every
// live shard exactly once, taking eligible values from each until budget
// values have been taken or every shard has been visited once.
//
// Within a shard, offsets are visited ascending; isTakeable decides
// eligibility and onTake performs the caller's side effect (e.g. marking
// a work container in-flight) exactly once per taken value, before it is
// appended to the result. If headOfLineBlocking is true, the shard scan
// stops at the first non-takeable offset (Partition/Key ordering);
// otherwise every offset in the shard is considered (Unordered ordering).
//
// New shards inserted concurrently with a call are not guaranteed to be
// visited during that call — they will be visited on a subsequent call,
// per the resumable-cursor policy documented in spec.md §9.
func (m *Map[V]) Take(cursor Cursor, budget int, headOfLineBlocking bool, isTakeable func(V) bool, onTake func(V)) ([]TakeResult[V], Cursor) {
	if budget <= 0 {
		return nil, cursor
	}

	m.mu.RLock()
	keys := make([]any, len(m.order))
	copy(keys, m.order)
	start := 0
	if cursor.started {
		if i, ok := m.index[cursor.key]; ok {
			start = i
		}
	}
	m.mu.RUnlock()

	if len(keys) == 0 {
		return nil, cursor
	}

	var results []TakeResult[V]
	lastVisited := cursor.key
	lastVisitedSet := false

	for i := 0; i < len(keys); i++ {
		idx := (start + i) % len(keys)
		key := keys[idx]

		m.mu.RLock()
		sh, ok := m.shards[key]
		m.mu.RUnlock()
		if !ok {
			continue // shard dropped concurrently; skip this round
		}

		lastVisited = key
		lastVisitedSet = true

		taken := sh.takeFrom(key, budget-len(results), headOfLineBlocking, isTakeable, onTake)
		results = append(results, taken...)

		if len(results) >= budget {
			// Resume at the *next* shard in traversal order, not this one,
			// so a shard with unbounded supply can't monopolize every call
			// (spec.md §4.2 fairness contract / §8 property 6).
			next := keys[(idx+1)%len(keys)]
			return results, Cursor{key: next, started: true}
		}
	}

	if lastVisitedSet {
		return results, Cursor{key: lastVisited, started: true}
	}
	return results, cursor
}

func (s *shard[V]) takeFrom(key any, budget int, headOfLineBlocking bool, isTakeable func(V) bool, onTake func(V)) []TakeResult[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TakeResult[V]
	for _, offset := range s.offsets {
		if len(out) >= budget {
			break
		}
		v := s.values[offset]
		if isTakeable(v) {
			onTake(v)
			out = append(out, TakeResult[V]{Key: key, Offset: offset, Value: v})
			if headOfLineBlocking {
				continue
			}
		} else if headOfLineBlocking {
			break
		}
	}
	return out
}
