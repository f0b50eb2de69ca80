// Package entity implements the hierarchical, reference-counted entity
// tree (Domain > Participant > {Publisher, Subscriber, Topic} >
// {Writer, Reader}) and its two-phase deletion protocol, spec
// sections 3 and 4.4.
package entity

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// Kind discriminates the fixed set of entity kinds. Per-kind behavior
// (Close/DeleteResources) is supplied by each kind's implementation of
// the Entity interface, not by switching on this discriminant.
type Kind int

const (
	KindParticipant Kind = iota
	KindPublisher
	KindSubscriber
	KindTopic
	KindWriter
	KindReader
)

var nextIID atomic.Uint64

// NewIID returns a process-unique monotonic instance id, used as an
// opaque handle.
func NewIID() uint64 {
	return nextIID.Add(1)
}

// BuiltinTopicWriter publishes entity lifecycle events to the built-in
// discovery topics. Implemented by the discovery package; entity only
// depends on this narrow interface to avoid an import cycle.
type BuiltinTopicWriter interface {
	WriteEntityEvent(k Kind, g guid.GUID, alive bool)
}

// Header is the common state every entity embeds, mirroring spec
// section 3's "Entity (common header)".
type Header struct {
	GUID      guid.GUID
	Kind      Kind
	IID       uint64
	Created   time.Time
	OnlyLocal bool

	mu    sync.Mutex // guards state below and in the owning entity
	qosMu sync.Mutex // guards QoS alone, for lock-free snapshot reads

	domain *Domain
	parent Entity // weak back-reference; existence implies a pin on parent

	refcount int32
	pinCount int32
	closed   bool
	deleted  bool
}

// Lock/Unlock/QoSLock/QoSUnlock expose the header's two mutexes,
// respecting the fixed lock order of spec section 5: m_mutex before
// m_observers_lock (not modeled further here) and qos_lock independent
// of m_mutex so QoS can be snapshot-read without the state lock.
func (h *Header) Lock()      { h.mu.Lock() }
func (h *Header) Unlock()    { h.mu.Unlock() }
func (h *Header) QoSLock()   { h.qosMu.Lock() }
func (h *Header) QoSUnlock() { h.qosMu.Unlock() }

// Pin increments the short-lived read-only traversal counter.
func (h *Header) Pin() { atomic.AddInt32(&h.pinCount, 1) }

// Unpin decrements it.
func (h *Header) Unpin() { atomic.AddInt32(&h.pinCount, -1) }

// Entity is the common interface every tree node implements.
type Entity interface {
	Header() *Header
	// Close makes the entity invisible for matching and interrupts any
	// blocked operation; it must run before any destructor work.
	Close()
	// DeleteResources frees caches, detaches subscriptions, unregisters
	// leases. It only runs after the GC barrier, once all children are
	// already gone.
	DeleteResources()
	Children() []Entity
	RemoveChild(Entity)
}

// Domain owns the per-domain singletons: entity index, GC queue, and a
// back-reference to the builtin-topic writer used for lifecycle
// publication. Implementers should tear these down synchronously in a
// fixed order (executor, then discovery, then index, then lease heap,
// then transport); rtmesh's cmd/rtmeshd Daemon.Stop does exactly that.
type Domain struct {
	ID int

	Index   *entityindex.Index
	Epoch   *entityindex.Epoch
	Builtin BuiltinTopicWriter

	log *log.Logger

	mu           sync.Mutex
	participants map[guid.GUID]*Participant

	gcMu      sync.Mutex
	gcPending []func()
}

// NewDomain constructs a Domain. builtin may be nil in tests that do not
// exercise discovery.
func NewDomain(id int, builtin BuiltinTopicWriter) *Domain {
	return &Domain{
		ID:           id,
		Index:        entityindex.New(),
		Epoch:        entityindex.NewEpoch(),
		Builtin:      builtin,
		log:          log.For("entity"),
		participants: make(map[guid.GUID]*Participant),
	}
}

// Participant is the top of the per-process entity tree.
type Participant struct {
	hdr Header
	mu  sync.Mutex

	Prefix guid.Prefix
	QoS    qos.QoS

	publishers  map[*Publisher]struct{}
	subscribers map[*Subscriber]struct{}
	topics      map[string]*Topic
}

func (p *Participant) Header() *Header { return &p.hdr }

// Close does nothing for a participant: it does not unblock throttled
// writers, does not mark any state, and does not itself tell discovery
// to stop announcing the participant.
func (p *Participant) Close() {}

// DeleteResources releases participant-level resources. Called only
// after every child has been collected.
func (p *Participant) DeleteResources() {}

func (p *Participant) Children() []Entity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entity, 0, len(p.publishers)+len(p.subscribers)+len(p.topics))
	for c := range p.publishers {
		out = append(out, c)
	}
	for c := range p.subscribers {
		out = append(out, c)
	}
	for _, c := range p.topics {
		out = append(out, c)
	}
	return out
}

func (p *Participant) RemoveChild(e Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch c := e.(type) {
	case *Publisher:
		delete(p.publishers, c)
	case *Subscriber:
		delete(p.subscribers, c)
	case *Topic:
		delete(p.topics, c.Name)
	}
}

// CreateParticipant implements the init phase for a participant: build
// the GUID from a prefix taken from a fresh UUIDv4 (newParticipantPrefix),
// insert it into the index, and register it with the domain.
func CreateParticipant(d *Domain, onlyLocal bool, initialQoS qos.QoS) *Participant {
	prefix := newParticipantPrefix()
	g := guid.Participant(prefix)

	p := &Participant{
		hdr: Header{
			GUID:      g,
			Kind:      KindParticipant,
			IID:       NewIID(),
			Created:   time.Now(),
			OnlyLocal: onlyLocal,
			domain:    d,
			refcount:  1,
		},
		Prefix:      prefix,
		QoS:         initialQoS,
		publishers:  make(map[*Publisher]struct{}),
		subscribers: make(map[*Subscriber]struct{}),
		topics:      make(map[string]*Topic),
	}

	d.Index.Insert(entityindex.Entry{GUID: g, Kind: guid.KindParticipant, Value: p})
	d.mu.Lock()
	d.participants[g] = p
	d.mu.Unlock()

	if !onlyLocal && d.Builtin != nil {
		d.Builtin.WriteEntityEvent(KindParticipant, g, true)
	}
	return p
}

// newParticipantPrefix derives a 12-byte prefix from a UUIDv4, the
// simplest process-unique source available without a transport layer
// to supply a real host/app/instance id (that derivation is explicitly
// out of scope, spec section 1).
func newParticipantPrefix() guid.Prefix {
	id := uuid.New()
	var p guid.Prefix
	copy(p[:], id[:12])
	return p
}

// Publisher and Subscriber are thin grouping entities; writers/readers
// are created underneath them.
type Publisher struct {
	hdr     Header
	mu      sync.Mutex
	QoS     qos.QoS
	writers map[*Writer]struct{}
}

func (p *Publisher) Header() *Header { return &p.hdr }
func (p *Publisher) Close()          {}
func (p *Publisher) DeleteResources() {}
func (p *Publisher) Children() []Entity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entity, 0, len(p.writers))
	for w := range p.writers {
		out = append(out, w)
	}
	return out
}
func (p *Publisher) RemoveChild(e Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := e.(*Writer); ok {
		delete(p.writers, w)
	}
}

type Subscriber struct {
	hdr     Header
	mu      sync.Mutex
	QoS     qos.QoS
	readers map[*Reader]struct{}
}

func (s *Subscriber) Header() *Header { return &s.hdr }
func (s *Subscriber) Close()          {}
func (s *Subscriber) DeleteResources() {}
func (s *Subscriber) Children() []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entity, 0, len(s.readers))
	for r := range s.readers {
		out = append(out, r)
	}
	return out
}
func (s *Subscriber) RemoveChild(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := e.(*Reader); ok {
		delete(s.readers, r)
	}
}

// Topic carries the shared type/QoS definition a set of local writers
// and readers publish/subscribe against.
type Topic struct {
	hdr      Header
	Name     string
	TypeName string
	QoS      qos.QoS
}

func (t *Topic) Header() *Header          { return &t.hdr }
func (t *Topic) Close()                   {}
func (t *Topic) DeleteResources()         {}
func (t *Topic) Children() []Entity       { return nil }
func (t *Topic) RemoveChild(e Entity)     {}

// CreateTopic registers a new topic entity under p, reusing an existing
// one by name if already present (first-writer-wins on type/QoS, as the
// topic definition registry of spec section 4.10 governs for the
// optional shared case; this minimal path just returns the existing
// entity).
func CreateTopic(p *Participant, name, typeName string, tqos qos.QoS) *Topic {
	p.mu.Lock()
	if existing, ok := p.topics[name]; ok {
		p.mu.Unlock()
		return existing
	}
	p.mu.Unlock()

	g := guid.New(p.Prefix, topicEntityID(name))
	t := &Topic{
		hdr: Header{
			GUID:    g,
			Kind:    KindTopic,
			IID:     NewIID(),
			Created: time.Now(),
			domain:  p.hdr.domain,
			parent:  p,
		},
		Name:     name,
		TypeName: typeName,
		QoS:      tqos,
	}

	p.mu.Lock()
	p.topics[name] = t
	p.mu.Unlock()

	p.hdr.domain.Index.Insert(entityindex.Entry{GUID: g, Kind: guid.KindTopic, Topic: name, Value: t})
	return t
}

func topicEntityID(name string) guid.EntityID {
	h := fnv32(name)
	return guid.EntityID{byte(h >> 16), byte(h >> 8), byte(h), 0x0a}
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Writer and Reader are defined in writer.go / reader.go.

// Delete runs the five-step protocol of spec section 4.4 against e,
// whose parent is parent. It asserts (panics) if e still has live
// children, matching the spec's "abort in debug builds" for that
// invariant.
func Delete(d *Domain, parent Entity, e Entity) {
	if len(e.Children()) != 0 {
		panic("entity: delete of entity with still-living children")
	}

	// Step 1: detach from parent's child container under the parent's lock.
	parent.Header().Lock()
	parent.RemoveChild(e)
	parent.Header().Unlock()

	hdr := e.Header()
	hdr.Lock()
	if hdr.deleted {
		hdr.Unlock()
		return
	}
	hdr.deleted = true
	hdr.Unlock()

	// Step 2: publish a built-in "deleted" topic event, unless onlylocal
	// (spec section 4.4's short-circuit).
	if !hdr.OnlyLocal && d.Builtin != nil {
		d.Builtin.WriteEntityEvent(kindFromEntity(e), hdr.GUID, false)
	}

	// Step 3: remove from the entity index, now invisible to matching.
	d.Index.Remove(hdr.GUID)

	// Step 4: close — unblock throttled writers, interrupt blocked waits.
	hdr.Lock()
	hdr.closed = true
	hdr.Unlock()
	e.Close()

	// Step 5: schedule the GC request.
	d.scheduleGC(func() {
		d.Epoch.Barrier()
		e.DeleteResources()
		if parentHdr := e.Header().parent; parentHdr != nil {
			parentHdr.Header().Unpin()
		}
	})
}

func kindFromEntity(e Entity) Kind {
	return e.Header().Kind
}

// scheduleGC enqueues fn for asynchronous execution; a real deployment
// runs this on a dedicated GC goroutine draining d.gcPending (wired by
// cmd/rtmeshd), mirroring the "one garbage-collection thread" of spec
// section 5.
func (d *Domain) scheduleGC(fn func()) {
	d.gcMu.Lock()
	d.gcPending = append(d.gcPending, fn)
	d.gcMu.Unlock()
}

// RunGC drains and executes pending GC requests; call from the
// dedicated GC goroutine.
func (d *Domain) RunGC() {
	for {
		d.gcMu.Lock()
		if len(d.gcPending) == 0 {
			d.gcMu.Unlock()
			return
		}
		fn := d.gcPending[0]
		d.gcPending = d.gcPending[1:]
		d.gcMu.Unlock()
		fn()
	}
}
