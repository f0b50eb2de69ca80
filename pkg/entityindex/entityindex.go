// Package entityindex implements the per-domain GUID index of spec
// section 4.3: O(1) GUID lookup plus ordered enumeration by
// (kind, topic_name, guid), restricted to a given topic and an optional
// GUID-prefix range.
package entityindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rtmesh/rtmesh/pkg/guid"
)

// Entry is one indexed record. Value is opaque to the index (typically
// a *entity.Entity); the index never dereferences it.
type Entry struct {
	GUID  guid.GUID
	Kind  guid.Kind
	Topic string // empty for participants
	Value any
}

type orderKey struct {
	kind  guid.Kind
	topic string
	guid  guid.GUID
}

func less(a, b orderKey) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.topic != b.topic {
		return a.topic < b.topic
	}
	return guid.Compare(a.guid, b.guid) < 0
}

// Index is a single per-domain structure providing GUID lookup and
// ordered enumeration. Safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	byGUID map[guid.GUID]*Entry

	// ordered holds keys in ascending (kind, topic, guid) order; kept
	// sorted on every Insert/Remove. A slice is sufficient at the entity
	// counts a single DDS domain participant set realistically reaches.
	ordered []orderKey
	byKey   map[orderKey]*Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byGUID: make(map[guid.GUID]*Entry),
		byKey:  make(map[orderKey]*Entry),
	}
}

// Insert adds e. It panics (a fatal lock-order/duplicate-insertion
// invariant violation per spec section 7) if e.GUID is already present.
func (x *Index) Insert(e Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.byGUID[e.GUID]; exists {
		panic(fmt.Sprintf("entityindex: duplicate insertion of %s", e.GUID))
	}

	entry := e
	x.byGUID[e.GUID] = &entry

	k := orderKey{kind: e.Kind, topic: e.Topic, guid: e.GUID}
	x.byKey[k] = &entry
	i := sort.Search(len(x.ordered), func(i int) bool { return !less(x.ordered[i], k) })
	x.ordered = append(x.ordered, orderKey{})
	copy(x.ordered[i+1:], x.ordered[i:])
	x.ordered[i] = k
}

// Remove deletes the entry for g, if present. After Remove returns,
// Lookup(g) will not find it, but threads that are "awake" (see Epoch)
// may still legitimately hold a pointer obtained before removal.
func (x *Index) Remove(g guid.GUID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.byGUID[g]
	if !ok {
		return
	}
	delete(x.byGUID, g)

	k := orderKey{kind: e.Kind, topic: e.Topic, guid: e.GUID}
	delete(x.byKey, k)
	i := sort.Search(len(x.ordered), func(i int) bool { return !less(x.ordered[i], k) })
	if i < len(x.ordered) && x.ordered[i] == k {
		x.ordered = append(x.ordered[:i], x.ordered[i+1:]...)
	}
}

// Lookup returns the entry for g, or nil if absent.
func (x *Index) Lookup(g guid.GUID) *Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byGUID[g]
}

// Range enumerates, in (kind, topic, guid) order, all entries of the
// given kind restricted to topic, optionally further restricted to
// GUIDs sharing prefix (nil prefix disables the restriction). Stops
// early if visit returns false. The caller must have marked its thread
// Awake for the duration of Range.
func (x *Index) Range(kind guid.Kind, topic string, prefix *guid.Prefix, visit func(*Entry) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	lo := orderKey{kind: kind, topic: topic}
	i := sort.Search(len(x.ordered), func(i int) bool { return !less(x.ordered[i], lo) })
	for ; i < len(x.ordered); i++ {
		k := x.ordered[i]
		if k.kind != kind || k.topic != topic {
			return
		}
		if prefix != nil && k.guid.Prefix != *prefix {
			continue
		}
		e := x.byKey[k]
		if e == nil {
			continue
		}
		if !visit(e) {
			return
		}
	}
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byGUID)
}
