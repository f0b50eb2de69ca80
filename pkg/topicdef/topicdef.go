// Package topicdef implements the optional topic definition registry of
// spec section 4.10: a hash table keyed by the MD5 of (topic name, type
// name, QoS) shared between local topics with identical type and QoS,
// so that a QoS change on one referencing topic fans out to every other
// referencing topic via a builtin-event broadcast.
package topicdef

import (
	"crypto/md5"
	"encoding/binary"
	"sync"

	cache "github.com/patrickmn/go-cache"

	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// Key is the MD5 digest identifying a (name, type, qos) definition,
// spec section 3.
type Key [16]byte

// ComputeKey hashes name, typeName and a stable encoding of q's present
// policy bitmask and reliability/durability/history kinds — the
// identity-relevant subset two topics must share to be considered the
// same definition.
func ComputeKey(name, typeName string, q qos.QoS) Key {
	h := md5.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(typeName))
	h.Write([]byte{0})

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(q.Present))
	h.Write(buf[:])
	h.Write([]byte{byte(q.ReliabilityKind), byte(q.DurabilityKind), byte(q.HistoryKind)})

	var out Key
	copy(out[:], h.Sum(nil))
	return out
}

// Definition is one shared topic definition.
type Definition struct {
	Key      Key
	Name     string
	TypeName string

	mu       sync.Mutex
	qosVal   qos.QoS
	refs     map[guid.GUID]struct{} // local and proxy topics referencing this definition
	version  uint64
}

func (d *Definition) QoS() qos.QoS {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.qosVal
}

// BuiltinTopicPublisher publishes topic-definition lifecycle events,
// analogous to pkg/entity.BuiltinTopicWriter but for the shared
// registry rather than per-entity creation/deletion.
type BuiltinTopicPublisher interface {
	WriteTopicEvent(key Key, name string, version uint64)
}

// Registry is the process-wide (per-domain) topic definition table.
type Registry struct {
	builtin BuiltinTopicPublisher

	mu    sync.Mutex
	byKey map[Key]*Definition

	// recent records definitions as they are referenced, in the way
	// linkerd2's endpoint caches keep last-seen entries. It is built
	// with NoExpiration, so there is no sweep window and entries never
	// age out; it is incidental bookkeeping, not load-bearing for
	// new_topic/update_topic_qos correctness.
	recent *cache.Cache
}

// NewRegistry constructs an empty registry.
func NewRegistry(builtin BuiltinTopicPublisher) *Registry {
	return &Registry{
		builtin: builtin,
		byKey:   make(map[Key]*Definition),
		recent:  cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// NewTopic implements new_topic: refs an existing definition matching
// (name, typeName, q) if present, else constructs one, in both cases
// recording topicGUID as a referencing party.
func (r *Registry) NewTopic(name, typeName string, q qos.QoS, topicGUID guid.GUID) *Definition {
	key := ComputeKey(name, typeName, q)

	r.mu.Lock()
	def, ok := r.byKey[key]
	if !ok {
		def = &Definition{Key: key, Name: name, TypeName: typeName, qosVal: q, refs: make(map[guid.GUID]struct{})}
		r.byKey[key] = def
	}
	r.mu.Unlock()

	def.mu.Lock()
	def.refs[topicGUID] = struct{}{}
	r.recent.SetDefault(name, key)
	def.mu.Unlock()

	return def
}

// UpdateTopicQoS implements update_topic_qos: atomically swaps the
// definition's QoS (only the changeable-policy delta, per spec section
// 3), bumps its version, and publishes a builtin event so every
// referencing topic observes the broadcast.
func (r *Registry) UpdateTopicQoS(def *Definition, newQoS qos.QoS) {
	def.mu.Lock()
	def.qosVal = qos.UpdateChangeable(def.qosVal, newQoS)
	def.version++
	version := def.version
	def.mu.Unlock()

	if r.builtin != nil {
		r.builtin.WriteTopicEvent(def.Key, def.Name, version)
	}
}

// Unref removes topicGUID from def's referencing set, freeing the
// definition once no topic references it.
func (r *Registry) Unref(def *Definition, topicGUID guid.GUID) {
	def.mu.Lock()
	delete(def.refs, topicGUID)
	empty := len(def.refs) == 0
	def.mu.Unlock()

	if !empty {
		return
	}
	r.mu.Lock()
	delete(r.byKey, def.Key)
	r.mu.Unlock()
}

// Lookup returns the definition for key, or nil if none is registered.
func (r *Registry) Lookup(key Key) *Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[key]
}
