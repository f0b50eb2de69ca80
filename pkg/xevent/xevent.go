// Package xevent implements the timed-event executor: a Fibonacci-heap
// ordered schedule of timed callbacks interleaved with a FIFO of
// non-timed events (outgoing messages, callback trampolines), as
// described in spec section 4.1.
package xevent

import (
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/fibheap"
	"github.com/rtmesh/rtmesh/pkg/telemetry"
)

// Never is the sentinel scheduled time meaning "do not schedule".
const Never int64 = 1<<63 - 1

// MinSentinel is the scheduled-time sentinel an async delete installs so
// the event becomes the heap minimum on the executor's next wakeup.
const MinSentinel int64 = -1 << 63

// Callback is invoked by the executor thread when a timed event fires.
// arg is the value stored at schedule time.
type Callback func(e *Event, now time.Time, arg any)

// Event is the handle returned by Schedule. Callers keep it to
// reschedule or delete the event.
type Event struct {
	ex   *Executor
	node *fibheap.Node[*Event]

	cb   Callback
	arg  any
	sync bool // sync-on-delete: Delete blocks until neither scheduled nor executing

	mu        sync.Mutex
	executing bool
	cond      *sync.Cond
}

// RetransmitKey identifies a retransmit request for dedup/merge purposes:
// a (writer, sequence number, fragment number) triple.
type RetransmitKey struct {
	Writer   string
	Seq      uint64
	Fragment uint32
}

// RetransmitMessage is a queued retransmit request. Dests is the
// destination-address set; non-mergeable messages have Mergeable=false
// and are never looked up by key.
type RetransmitMessage struct {
	Key       RetransmitKey
	Mergeable bool
	Dests     map[string]struct{}
	Bytes     int
}

// EnqueueResult is the outcome of EnqueueRetransmit.
type EnqueueResult int

const (
	Queued EnqueueResult = iota
	Merged
	Dropped
)

// Limits bounds the retransmit queue.
type Limits struct {
	MaxBytes    int
	MaxMessages int
}

// Executor runs the timed-event heap and the non-timed FIFO on a single
// goroutine, exactly the "one timed-event thread per executor" model of
// spec section 5.
type Executor struct {
	log     *log.Logger
	domain  string
	metrics *telemetry.Metrics

	mu   sync.Mutex
	heap *fibheap.Heap[*Event]

	nontimed workqueue.Interface

	limits Limits

	rexmitMu    sync.Mutex
	rexmit      map[RetransmitKey]*RetransmitMessage
	rexmitOrder []*RetransmitMessage
	rexmitBytes int
	rexmitCount int

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// nontimedItem wraps a non-timed event for the workqueue, which requires
// comparable items; we box each event behind a unique pointer-sized key.
type nontimedItem struct {
	kind string // "message" or "callback"
	fn   func()
}

// New creates an Executor with the given retransmit queue limits, labeling
// the retransmit prometheus counters with domain. Call Run to start its
// loop.
func New(domain string, limits Limits) *Executor {
	return &Executor{
		log:      log.For("xevent"),
		domain:   domain,
		metrics:  telemetry.Default(),
		heap:     fibheap.New[*Event](),
		nontimed: workqueue.New(),
		limits:   limits,
		rexmit:   make(map[RetransmitKey]*RetransmitMessage),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Schedule inserts a new timed event. syncOnDelete fixes, at schedule
// time, whether a later Delete blocks (sync) or defers to the executor
// thread (async) — required whenever cb dereferences caller-owned state.
func (ex *Executor) Schedule(tsched time.Time, cb Callback, arg any, syncOnDelete bool) *Event {
	e := &Event{ex: ex, cb: cb, arg: arg, sync: syncOnDelete}
	e.cond = sync.NewCond(&e.mu)

	ex.mu.Lock()
	e.node = ex.heap.Insert(tsched.UnixNano(), e)
	min := ex.heap.Min()
	ex.mu.Unlock()

	if min != nil && min.Value == e {
		ex.signal()
	}
	return e
}

// RescheduleEarlier moves e's scheduled time earlier only; it is a
// no-op (returning false) if tsched is not earlier than the current
// scheduled time.
func (ex *Executor) RescheduleEarlier(e *Event, tsched time.Time) bool {
	key := tsched.UnixNano()

	ex.mu.Lock()
	if e.node == nil || key >= e.node.Key {
		ex.mu.Unlock()
		return false
	}
	ex.heap.DecreaseKey(e.node, key)
	becameMin := ex.heap.Min() != nil && ex.heap.Min().Value == e
	ex.mu.Unlock()

	if becameMin {
		ex.signal()
	}
	return true
}

// Delete removes e. If e was scheduled with syncOnDelete, Delete blocks
// until e is neither scheduled nor executing, then returns after the
// caller may safely free state cb closed over. Otherwise Delete marks e
// with the MinSentinel scheduled time and returns immediately; the
// executor thread frees it on its next wakeup.
func (e *Event) Delete() {
	ex := e.ex
	if !e.sync {
		ex.mu.Lock()
		if e.node != nil {
			ex.heap.DecreaseKey(e.node, MinSentinel)
		}
		ex.mu.Unlock()
		ex.signal()
		return
	}

	e.mu.Lock()
	for e.executing {
		e.cond.Wait()
	}
	e.mu.Unlock()

	ex.mu.Lock()
	if e.node != nil {
		ex.heap.Delete(e.node)
		e.node = nil
	}
	ex.mu.Unlock()
}

func (ex *Executor) signal() {
	select {
	case ex.wake <- struct{}{}:
	default:
	}
}

// EnqueueMessage appends a raw outgoing message to the non-timed FIFO.
func (ex *Executor) EnqueueMessage(send func()) {
	ex.nontimed.Add(&nontimedItem{kind: "message", fn: send})
}

// EnqueueNontimedCallback appends a callback trampoline to the non-timed
// FIFO.
func (ex *Executor) EnqueueNontimedCallback(cb func()) {
	ex.nontimed.Add(&nontimedItem{kind: "callback", fn: cb})
}

// EnqueueRetransmit attempts to enqueue a retransmit request, merging
// into an identical already-queued (writer, seq, fragment) request's
// destination set when possible.
func (ex *Executor) EnqueueRetransmit(msg *RetransmitMessage, force bool) EnqueueResult {
	ex.rexmitMu.Lock()
	defer ex.rexmitMu.Unlock()

	if msg.Mergeable {
		if existing, ok := ex.rexmit[msg.Key]; ok {
			for d := range msg.Dests {
				existing.Dests[d] = struct{}{}
			}
			ex.metrics.DeliveryMerged.WithLabelValues(ex.domain).Inc()
			return Merged
		}
	}

	if !force && (ex.rexmitBytes+msg.Bytes > ex.limits.MaxBytes || ex.rexmitCount+1 > ex.limits.MaxMessages) {
		ex.log.Debugf("dropping retransmit %+v: over limits", msg.Key)
		return Dropped
	}

	if msg.Mergeable {
		ex.rexmit[msg.Key] = msg
	}
	ex.rexmitOrder = append(ex.rexmitOrder, msg)
	ex.rexmitBytes += msg.Bytes
	ex.rexmitCount++
	ex.metrics.RetransmitQueued.WithLabelValues(ex.domain).Inc()
	return Queued
}

// drainRetransmits removes and returns all queued retransmit messages,
// clearing the dedup index.
func (ex *Executor) drainRetransmits() []*RetransmitMessage {
	ex.rexmitMu.Lock()
	defer ex.rexmitMu.Unlock()
	out := ex.rexmitOrder
	ex.rexmitOrder = nil
	ex.rexmit = make(map[RetransmitKey]*RetransmitMessage)
	ex.rexmitBytes = 0
	ex.rexmitCount = 0
	return out
}

// Run drives the scheduling loop until Stop is called: drain all due
// timed events, dequeue at most one non-timed event, repeat until
// neither is due, then sleep until the earliest scheduled time or
// until signalled.
func (ex *Executor) Run() {
	defer close(ex.done)
	for {
		for ex.drainDueTimed() {
		}
		ex.drainOneRetransmitBatch()
		if ex.drainOneNontimed() {
			continue
		}

		wait := ex.nextWakeDuration()
		select {
		case <-ex.stop:
			return
		case <-ex.wake:
		case <-time.After(wait):
		}
	}
}

// Stop signals the loop to exit and waits for it to do so.
func (ex *Executor) Stop() {
	close(ex.stop)
	ex.nontimed.ShutDown()
	<-ex.done
}

func (ex *Executor) nextWakeDuration() time.Duration {
	ex.mu.Lock()
	min := ex.heap.Min()
	ex.mu.Unlock()
	if min == nil {
		return time.Hour
	}
	d := time.Until(time.Unix(0, min.Key))
	if d < 0 {
		return 0
	}
	return d
}

func (ex *Executor) drainDueTimed() bool {
	now := time.Now()

	ex.mu.Lock()
	min := ex.heap.Min()
	if min == nil || min.Key > now.UnixNano() {
		ex.mu.Unlock()
		return false
	}
	n := ex.heap.ExtractMin()
	ex.mu.Unlock()

	e := n.Value
	if n.Key == MinSentinel {
		// async-deleted event: drop without invoking.
		e.mu.Lock()
		e.node = nil
		e.mu.Unlock()
		return true
	}

	// Re-insert at Never, keeping the node (and handle) live, before
	// invoking the callback: the callback may reschedule itself earlier
	// via RescheduleEarlier, which requires e.node to still be in the heap.
	ex.mu.Lock()
	e.node = ex.heap.Insert(Never, e)
	ex.mu.Unlock()

	e.mu.Lock()
	if e.sync {
		e.executing = true
	}
	e.mu.Unlock()

	e.cb(e, now, e.arg)

	if e.sync {
		e.mu.Lock()
		e.executing = false
		e.cond.Broadcast()
		e.mu.Unlock()
	}
	return true
}

func (ex *Executor) drainOneNontimed() bool {
	if ex.nontimed.Len() == 0 {
		return false // Get would block; let Run sleep until the next timed event
	}
	item, shutdown := ex.nontimed.Get()
	if shutdown {
		return false
	}
	defer ex.nontimed.Done(item)
	if it, ok := item.(*nontimedItem); ok && it.fn != nil {
		it.fn()
	}
	return true
}

func (ex *Executor) drainOneRetransmitBatch() {
	for _, msg := range ex.drainRetransmits() {
		_ = msg // transport send is out of scope (spec section 1); hook point for callers.
	}
}
