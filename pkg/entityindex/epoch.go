package entityindex

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ThreadHandle is a registered reader's awake/asleep state, an epoch
// counter that increments on every Awake/Asleep transition. While a
// thread is awake, the GC must not reclaim entities it may have
// observed, even if they are concurrently removed from the index.
type ThreadHandle struct {
	vclock atomic.Uint64
}

// Awake marks the calling thread awake (vclock odd).
func (t *ThreadHandle) Awake() {
	for {
		v := t.vclock.Load()
		if v%2 == 1 {
			return // already awake
		}
		if t.vclock.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// Asleep marks the calling thread asleep (vclock even).
func (t *ThreadHandle) Asleep() {
	for {
		v := t.vclock.Load()
		if v%2 == 0 {
			return
		}
		if t.vclock.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// Epoch is the process-wide registry of reader threads used to
// implement the GC thread-progress barrier of spec section 5: the GC
// only reclaims after every registered thread has left its current
// awake period at least once.
type Epoch struct {
	mu      sync.Mutex
	threads map[*ThreadHandle]struct{}
}

// NewEpoch returns an empty thread registry.
func NewEpoch() *Epoch {
	return &Epoch{threads: make(map[*ThreadHandle]struct{})}
}

// Register adds a new reader thread to the registry and returns its
// handle.
func (e *Epoch) Register() *ThreadHandle {
	h := &ThreadHandle{}
	e.mu.Lock()
	e.threads[h] = struct{}{}
	e.mu.Unlock()
	return h
}

// Unregister removes a thread (it is exiting) from the registry.
func (e *Epoch) Unregister(h *ThreadHandle) {
	e.mu.Lock()
	delete(e.threads, h)
	e.mu.Unlock()
}

// Barrier blocks until every thread currently registered has made at
// least one Awake/Asleep transition since Barrier was called (i.e. has
// "taken a step"), bounding how long freed memory must be kept alive.
// Each thread's wait runs on its own goroutine via errgroup so a single
// slow reader does not delay observing the others' progress.
func (e *Epoch) Barrier() {
	e.mu.Lock()
	snapshot := make(map[*ThreadHandle]uint64, len(e.threads))
	for h := range e.threads {
		snapshot[h] = h.vclock.Load()
	}
	e.mu.Unlock()

	var g errgroup.Group
	for h, v0 := range snapshot {
		h, v0 := h, v0
		g.Go(func() error {
			for h.vclock.Load() == v0 {
				time.Sleep(time.Millisecond)
			}
			return nil
		})
	}
	_ = g.Wait()
}
