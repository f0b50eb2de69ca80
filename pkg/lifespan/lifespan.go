// Package lifespan implements the per-history-cache sample-expiry
// structure of spec section 4.8: a fibonacci heap ordered by a sample's
// monotonic expiry time, driving an executor callback that expires
// samples as they come due.
package lifespan

import (
	"time"

	"github.com/rtmesh/rtmesh/pkg/fibheap"
	"github.com/rtmesh/rtmesh/pkg/xevent"
)

// Never means a sample does not expire and is never scheduled.
const Never int64 = 1<<63 - 1

// Sample is the narrow surface a history cache's stored entry exposes
// to the lifespan heap.
type Sample interface {
	// Expiry returns the sample's absolute expiry time, or the zero
	// Time if it never expires.
	Expiry() time.Time
}

// ExpireFunc is invoked once per sample whose expiry has come due; the
// cache owns removing it from its own storage.
type ExpireFunc func(s Sample)

// Heap is a per-history-cache auxiliary structure. Register_sample
// inserts iff the sample's expiry is not Never; the minimum is kept in
// sync with an executor-scheduled "sample-expired" event.
type Heap struct {
	fh *fibheap.Heap[Sample]

	ex    *xevent.Executor
	event *xevent.Event

	expire ExpireFunc
}

// New constructs a lifespan Heap that schedules its expiry callback on
// ex and reports expirations via expire.
func New(ex *xevent.Executor, expire ExpireFunc) *Heap {
	h := &Heap{
		fh:     fibheap.New[Sample](),
		ex:     ex,
		expire: expire,
	}
	h.event = ex.Schedule(time.Now().Add(time.Hour), h.onFire, nil, true)
	return h
}

// RegisterSample inserts s iff its expiry is not the zero time (Never),
// then reschedules the heap's expiry event to the new minimum.
func (h *Heap) RegisterSample(s Sample) *fibheap.Node[Sample] {
	exp := s.Expiry()
	if exp.IsZero() {
		return nil
	}
	node := h.fh.Insert(exp.UnixNano(), s)
	h.ex.RescheduleEarlier(h.event, exp)
	return node
}

// Pop removes node from the heap by address (used when a sample is
// explicitly taken/disposed before its natural expiry).
func (h *Heap) Pop(node *fibheap.Node[Sample]) {
	if node == nil {
		return
	}
	h.fh.Delete(node)
}

// Peek returns the minimum's expiry if it is due at now, or the next
// scheduled expiry otherwise. The second return is false if the heap
// is empty.
func (h *Heap) Peek(now time.Time) (time.Time, bool) {
	min := h.fh.Min()
	if min == nil {
		return time.Time{}, false
	}
	return time.Unix(0, min.Key), true
}

// onFire is the executor callback: expires zero or more due samples,
// then reschedules to the new minimum.
func (h *Heap) onFire(e *xevent.Event, now time.Time, _ any) {
	for {
		min := h.fh.Min()
		if min == nil {
			return
		}
		if min.Key > now.UnixNano() {
			h.ex.RescheduleEarlier(e, time.Unix(0, min.Key))
			return
		}
		n := h.fh.ExtractMin()
		if h.expire != nil {
			h.expire(n.Value)
		}
	}
}

// Stop removes the heap's executor event (synchronous, since the
// callback dereferences this heap's own state).
func (h *Heap) Stop() {
	h.event.Delete()
}
