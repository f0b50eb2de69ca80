// Package typelib implements the optional XTypes graph of spec section
// 4.9: a directed graph of ddsi_type nodes keyed by TypeID, tracking
// resolution state and the proxy endpoints that depend on each type so
// matching can be retried once a type resolves.
package typelib

import (
	"crypto/md5"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtmesh/rtmesh/pkg/guid"
)

// TypeID is the 16-byte MD5 key of a type's XCDR2-serialized
// representation, spec section 4.9's "equality and hashing... include
// the XCDR2 serialization of the object."
type TypeID [16]byte

// HashTypeObject computes the TypeID for an already-serialized (XCDR2)
// type object.
func HashTypeObject(serialized []byte) TypeID {
	return md5.Sum(serialized)
}

// State is a type node's resolution state machine.
type State int

const (
	Unresolved State = iota
	Requested
	PartialResolved
	Resolved
	Invalid
	Constructing
)

// ErrWaitTimeout is returned by WaitForResolved when the timeout
// elapses before resolution completes, and also, without waiting out
// the timeout, when a waited-on type is Invalid.
var ErrWaitTimeout = errors.New("typelib: wait for resolved timed out")

// Type is one node in the dependency graph.
type Type struct {
	ID     TypeID
	Object []byte // XTypes representation, opaque to this package

	mu       sync.Mutex
	refcount int32
	state    State
	refs     map[guid.GUID]struct{} // proxy-endpoint GUIDs referencing this type
	cond     *sync.Cond
}

func newType(id TypeID) *Type {
	t := &Type{ID: id, state: Unresolved, refs: make(map[guid.GUID]struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Type) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Library is the process-wide (per-domain) type graph.
type Library struct {
	mu    sync.Mutex
	types map[TypeID]*Type

	// deps/revDeps index (src_type_id, dep_type_id) pairs and their
	// reverse, each entry tagged fromTypeInfo to distinguish owning refs
	// (unreffed on teardown) from non-owning links.
	deps    map[TypeID]map[TypeID]bool
	revDeps map[TypeID]map[TypeID]bool
}

// New constructs an empty type library.
func New() *Library {
	return &Library{
		types:   make(map[TypeID]*Type),
		deps:    make(map[TypeID]map[TypeID]bool),
		revDeps: make(map[TypeID]map[TypeID]bool),
	}
}

// Ref implements ref: look up or allocate the node for id, incrementing
// its refcount.
func (l *Library) Ref(id TypeID) *Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refIDLocked(id)
}

// RefIDLocked implements ref_id_locked: same as Ref but the caller
// already holds the library lock (used when called from within another
// Library operation). Exposed for callers building composite
// operations over the same lock.
func (l *Library) RefIDLocked(id TypeID) *Type {
	return l.refIDLocked(id)
}

func (l *Library) refIDLocked(id TypeID) *Type {
	t, ok := l.types[id]
	if !ok {
		t = newType(id)
		l.types[id] = t
	}
	t.mu.Lock()
	t.refcount++
	t.mu.Unlock()
	return t
}

// Unref decrements t's refcount and propagates unref to its owned
// (from-type-info) dependencies when it reaches zero, removing the node
// from the graph.
func (l *Library) Unref(t *Type) {
	t.mu.Lock()
	t.refcount--
	zero := t.refcount <= 0
	t.mu.Unlock()
	if !zero {
		return
	}

	l.mu.Lock()
	owned := make([]TypeID, 0)
	for dep, fromTypeInfo := range l.deps[t.ID] {
		if fromTypeInfo {
			owned = append(owned, dep)
		}
	}
	delete(l.types, t.ID)
	delete(l.deps, t.ID)
	for dep := range l.revDeps {
		delete(l.revDeps[dep], t.ID)
	}
	l.mu.Unlock()

	for _, dep := range owned {
		if dt := l.lookup(dep); dt != nil {
			l.Unref(dt)
		}
	}
}

func (l *Library) lookup(id TypeID) *Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.types[id]
}

// SertypeDependents provides the set of dependent TypeIDs a sertype's
// own type-map already knows about, consulted by RefLocal.
type SertypeDependents interface {
	TypeDependencies() []TypeID
}

// RefLocal implements ref_local(sertype, kind): refs the sertype's own
// top-level TypeID plus every dependency its type-map reports, tagging
// each dependency edge as non-owning (fromTypeInfo=false, a structural
// dependency rather than one announced over the wire). Unref of the
// top-level type does not release the dependency refs taken here.
func (l *Library) RefLocal(topID TypeID, deps SertypeDependents) *Type {
	l.mu.Lock()
	t := l.refIDLocked(topID)
	if deps != nil {
		for _, d := range deps.TypeDependencies() {
			l.addDepLocked(topID, d, false)
			l.refIDLocked(d)
		}
	}
	l.mu.Unlock()
	return t
}

// RefProxy implements ref_proxy(type_info, kind, proxy_guid): registers
// a type-info announcement from a remote endpoint, tagging the
// dependency edge fromTypeInfo=true so it is unreffed on the proxy's
// teardown, and recording proxyGUID as an interested party for
// re-matching once the type resolves.
func (l *Library) RefProxy(topID TypeID, typeInfoDeps []TypeID, proxyGUID guid.GUID) *Type {
	l.mu.Lock()
	t := l.refIDLocked(topID)
	for _, d := range typeInfoDeps {
		l.addDepLocked(topID, d, true)
		l.refIDLocked(d)
	}
	l.mu.Unlock()

	t.mu.Lock()
	t.refs[proxyGUID] = struct{}{}
	t.mu.Unlock()
	return t
}

func (l *Library) addDepLocked(src, dep TypeID, fromTypeInfo bool) {
	if l.deps[src] == nil {
		l.deps[src] = make(map[TypeID]bool)
	}
	l.deps[src][dep] = fromTypeInfo
	if l.revDeps[dep] == nil {
		l.revDeps[dep] = make(map[TypeID]bool)
	}
	l.revDeps[dep][src] = fromTypeInfo
}

// AddTypeobj implements add_typeobj(type, object): verifies object
// hashes to t.ID, transitioning to Resolved on success, Unresolved on
// hash mismatch (the announcer must retry), or Invalid on structural
// error (nil object). Invalidation propagates transitively via
// reverse-deps.
func (l *Library) AddTypeobj(t *Type, object []byte) State {
	if object == nil {
		t.mu.Lock()
		t.state = Invalid
		t.mu.Unlock()
		l.invalidateDependents(t.ID)
		return Invalid
	}

	if HashTypeObject(object) != t.ID {
		t.mu.Lock()
		t.state = Unresolved
		t.mu.Unlock()
		return Unresolved
	}

	t.mu.Lock()
	t.Object = object
	t.state = Resolved
	t.cond.Broadcast()
	t.mu.Unlock()
	return Resolved
}

func (l *Library) invalidateDependents(id TypeID) {
	l.mu.Lock()
	dependents := make([]TypeID, 0)
	for src := range l.revDeps[id] {
		dependents = append(dependents, src)
	}
	l.mu.Unlock()

	for _, src := range dependents {
		t := l.lookup(src)
		if t == nil {
			continue
		}
		t.mu.Lock()
		already := t.state == Invalid
		if !already {
			t.state = Invalid
			t.cond.Broadcast()
		}
		t.mu.Unlock()
		if !already {
			l.invalidateDependents(src)
		}
	}
}

// WaitForResolved implements wait_for_resolved(type_id, timeout,
// scope): blocks until t (and, if scope requests it, its dependencies)
// is Resolved, or returns ErrWaitTimeout; a type that is or becomes
// Invalid ends the wait at once with ErrWaitTimeout. Uses a bounded condition-
// variable wait that re-checks the predicate on every wakeup per spec
// section 9's coroutine-like control-flow note.
func (l *Library) WaitForResolved(t *Type, timeout time.Duration, includeDeps bool) error {
	deadline := time.Now().Add(timeout)

	if !waitOne(t, deadline) {
		return ErrWaitTimeout
	}
	if !includeDeps {
		return nil
	}

	l.mu.Lock()
	deps := make([]TypeID, 0, len(l.deps[t.ID]))
	for d := range l.deps[t.ID] {
		deps = append(deps, d)
	}
	l.mu.Unlock()

	for _, id := range deps {
		dt := l.lookup(id)
		if dt == nil {
			continue
		}
		if !waitOne(dt, deadline) {
			return ErrWaitTimeout
		}
	}
	return nil
}

func waitOne(t *Type, deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.state != Resolved && t.state != Invalid {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		})
		t.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) && t.state != Resolved && t.state != Invalid {
			return false
		}
	}
	return t.state == Resolved
}

// NewCorrelationID mints a correlation id for a dependent-type request,
// the way pkg/entity mints participant prefixes: a process-unique
// disambiguator with no further structure required by this package.
func NewCorrelationID() uuid.UUID {
	return uuid.New()
}
