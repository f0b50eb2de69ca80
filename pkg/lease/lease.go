// Package lease implements the process-wide liveliness lease heap of
// spec section 4.2: a single Fibonacci heap ordered by scheduled
// expiry, with atomic CAS-based renewal so hot data-arrival paths never
// take the heap's mutex.
package lease

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/fibheap"
)

// Never means the lease does not expire and is never scheduled.
const Never int64 = 1<<63 - 1

// notScheduled is the tsched sentinel meaning "not currently in the heap".
const notScheduled int64 = -1 << 63

// Owner is notified when its lease expires.
type Owner interface {
	// OnLeaseExpired is called by the GC thread with the lease that
	// fired. Returning a non-zero defer duration re-inserts the lease
	// with tsched = now+defer instead of leaving it expired (used by the
	// secondary/privileged participant deferral of spec section 4.6).
	OnLeaseExpired(l *Lease, now time.Time) (deferBy time.Duration)
}

// Lease tracks when an entity last asserted liveliness.
type Lease struct {
	tend   atomic.Int64 // absolute UnixNano, or Never
	tdur   time.Duration
	owner  Owner
	heap   *Heap
	mu     sync.Mutex // guards node/tsched together with Heap.mu ordering: Heap.mu before Lease.mu
	node   *fibheap.Node[*Lease]
	tsched int64
}

// Tend returns the lease's current absolute expiry.
func (l *Lease) Tend() time.Time {
	v := l.tend.Load()
	if v == Never {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// onHeap reports whether the lease is currently scheduled.
func (l *Lease) onHeap() bool {
	return l.node != nil
}

// Heap is the single process-wide (per-domain) lease scheduler.
type Heap struct {
	log *log.Logger

	mu sync.Mutex
	fh *fibheap.Heap[*Lease]

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewHeap constructs an empty lease heap.
func NewHeap() *Heap {
	return &Heap{
		log:  log.For("lease"),
		fh:   fibheap.New[*Lease](),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// New allocates a lease in the "not on heap" state.
func (h *Heap) New(tend time.Time, tdur time.Duration, owner Owner) *Lease {
	l := &Lease{tdur: tdur, owner: owner, heap: h, tsched: notScheduled}
	if tend.IsZero() {
		l.tend.Store(Never)
	} else {
		l.tend.Store(tend.UnixNano())
	}
	return l
}

// Register inserts l into the heap if it has a finite tend, and wakes
// the GC thread.
func (h *Heap) Register(l *Lease) {
	tend := l.tend.Load()
	if tend == Never {
		return
	}

	h.mu.Lock()
	l.mu.Lock()
	l.tsched = tend
	l.node = h.fh.Insert(tend, l)
	l.mu.Unlock()
	h.mu.Unlock()

	h.signal()
}

// Unregister removes l from the heap if present, and wakes the GC
// thread.
func (h *Heap) Unregister(l *Lease) {
	h.mu.Lock()
	l.mu.Lock()
	if l.node != nil {
		h.fh.Delete(l.node)
		l.node = nil
		l.tsched = notScheduled
	}
	l.mu.Unlock()
	h.mu.Unlock()

	h.signal()
}

// Renew attempts to CAS-advance tend to now+tdur. It never moves tend
// backwards and never extends an already-expired lease: if the current
// tend is already <= now, an observed expiration wins and Renew is a
// no-op.
func (l *Lease) Renew(now time.Time) bool {
	newTend := now.Add(l.tdur).UnixNano()
	for {
		cur := l.tend.Load()
		if cur != Never && cur <= now.UnixNano() {
			return false // already expired; expiration wins
		}
		if cur != Never && newTend <= cur {
			return false // never move backwards
		}
		if l.tend.CompareAndSwap(cur, newTend) {
			return true
		}
	}
}

// SetExpiry overwrites tend unconditionally (unlike Renew) and adjusts
// the heap position: decrease-key if when is earlier than the current
// scheduled time, or insert if the lease was not on the heap.
func (l *Lease) SetExpiry(when time.Time) {
	whenNanos := when.UnixNano()
	l.tend.Store(whenNanos)

	h := l.heap
	h.mu.Lock()
	l.mu.Lock()
	switch {
	case l.node != nil && whenNanos < l.tsched:
		h.fh.DecreaseKey(l.node, whenNanos)
		l.tsched = whenNanos
	case l.node == nil && whenNanos < Never:
		l.node = h.fh.Insert(whenNanos, l)
		l.tsched = whenNanos
	}
	l.mu.Unlock()
	h.mu.Unlock()

	h.signal()
}

func (h *Heap) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run drives the GC thread: repeatedly peek the minimum and fire
// handlers whose tend <= now.
func (h *Heap) Run() {
	defer close(h.done)
	for {
		wait := h.fireExpired()

		select {
		case <-h.stop:
			return
		case <-h.wake:
		case <-time.After(wait):
		}
	}
}

// Stop halts the GC thread.
func (h *Heap) Stop() {
	close(h.stop)
	<-h.done
}

func (h *Heap) fireExpired() time.Duration {
	for {
		now := time.Now()

		h.mu.Lock()
		min := h.fh.Min()
		if min == nil {
			h.mu.Unlock()
			return time.Hour
		}
		if min.Key > now.UnixNano() {
			d := time.Unix(0, min.Key).Sub(now)
			h.mu.Unlock()
			return d
		}
		n := h.fh.ExtractMin()
		h.mu.Unlock()

		l := n.Value
		l.mu.Lock()
		l.node = nil
		l.tsched = notScheduled
		l.mu.Unlock()

		// Renew advances tend via CAS without touching the heap, so the
		// node popped here may have been renewed since it was scheduled.
		// Re-check tend against now and reinsert rather than firing early.
		if tend := l.tend.Load(); tend == Never || tend > now.UnixNano() {
			if tend != Never {
				h.mu.Lock()
				l.mu.Lock()
				l.tsched = tend
				l.node = h.fh.Insert(tend, l)
				l.mu.Unlock()
				h.mu.Unlock()
			}
			continue
		}

		if l.owner == nil {
			continue
		}
		if deferBy := l.owner.OnLeaseExpired(l, now); deferBy > 0 {
			l.SetExpiry(now.Add(deferBy))
		}
	}
}
