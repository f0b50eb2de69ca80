package entity

import (
	"sync"
	"time"

	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/proxy"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// HistoryCache is the per-reader bounded ordered sample buffer. The
// concrete cache (WHC/RHC storage, take/read cursors) is outside this
// module's hard core; Reader depends only on this narrow interface so
// pkg/delivery can store into it.
type HistoryCache interface {
	Store(sample any) (ok bool, rejectRetryable bool)
}

// Reader is a local data reader.
type Reader struct {
	hdr Header

	Topic  *Topic
	qosVal qos.QoS
	Cache  HistoryCache

	mu                     sync.Mutex
	matchedWriters         map[*proxy.Writer]struct{}
	dataAvailablePending   int
	dataAvailableExecuting int
	cond                   *sync.Cond
}

func (r *Reader) Header() *Header { return &r.hdr }

// QoS returns the reader's requested QoS, part of the
// proxy.LocalReader surface a matching proxy writer calls back on.
func (r *Reader) QoS() qos.QoS { return r.qosVal }

// GUID returns the reader's GUID, part of the proxy.LocalReader surface.
func (r *Reader) GUID() guid.GUID { return r.hdr.GUID }

func (r *Reader) Close() {}

func (r *Reader) DeleteResources() {
	r.mu.Lock()
	r.matchedWriters = nil
	r.mu.Unlock()
}

func (r *Reader) Children() []Entity { return nil }
func (r *Reader) RemoveChild(Entity) {}

// Store implements MatchedReader for the local-to-local fast path.
func (r *Reader) Store(sample any) (ok bool, rejectRetryable bool) {
	if r.Cache == nil {
		return true, false
	}
	return r.Cache.Store(sample)
}

// Exists reports whether the reader is still present (used by
// pkg/delivery's retry-abort condition).
func (r *Reader) Exists() bool {
	r.hdr.Lock()
	defer r.hdr.Unlock()
	return !r.hdr.deleted
}

// OnWriterLivelinessLost implements the notification endpoint a matched
// proxy writer calls on its SetNotAlive transition.
func (r *Reader) OnWriterLivelinessLost() {
	// Status-condition propagation (LIVELINESS_CHANGED) is out of this
	// module's hard core (spec section 1); hook point for callers.
}

// OnWriterLivelinessGained implements the notification endpoint a matched
// proxy writer calls on its SetAliveMayUnlock transition.
func (r *Reader) OnWriterLivelinessGained() {
	// Status-condition propagation (LIVELINESS_CHANGED) is out of this
	// module's hard core (spec section 1); hook point for callers.
}

// AddProxyWriter / RemoveProxyWriter complete the proxy.LocalReader
// surface, recording which remote writers this reader is matched to.
func (r *Reader) AddProxyWriter(w *proxy.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matchedWriters == nil {
		r.matchedWriters = make(map[*proxy.Writer]struct{})
	}
	r.matchedWriters[w] = struct{}{}
}

func (r *Reader) RemoveProxyWriter(w *proxy.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matchedWriters, w)
}

// CreateReader creates a reader under sub on topic t, backed by cache.
func CreateReader(sub *Subscriber, t *Topic, rqos qos.QoS, cache HistoryCache) *Reader {
	g := guid.New(sub.hdr.parentPrefix(), guid.EntityID{0, 0, 0, 0x07})
	r := &Reader{
		hdr: Header{
			GUID:    g,
			Kind:    KindReader,
			IID:     NewIID(),
			Created: time.Now(),
			domain:  sub.hdr.domain,
			parent:  sub,
		},
		Topic:          t,
		qosVal:         rqos,
		Cache:          cache,
		matchedWriters: make(map[*proxy.Writer]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	sub.mu.Lock()
	if sub.readers == nil {
		sub.readers = make(map[*Reader]struct{})
	}
	sub.readers[r] = struct{}{}
	sub.mu.Unlock()

	sub.hdr.domain.Index.Insert(entityEntry(g, guid.KindReader, t.Name, r))
	return r
}

// WithListenerExclusive implements the "listener-exclusive" protocol of
// spec section 5 rule 4 around the data_available callback: increment a
// pending counter, wait until no callback is executing, run fn with the
// lock dropped, then decrement and broadcast.
func (r *Reader) WithListenerExclusive(fn func()) {
	r.mu.Lock()
	r.dataAvailablePending++
	for r.dataAvailableExecuting > 0 {
		r.cond.Wait()
	}
	r.dataAvailableExecuting++
	r.dataAvailablePending--
	r.mu.Unlock()

	fn()

	r.mu.Lock()
	r.dataAvailableExecuting--
	r.cond.Broadcast()
	r.mu.Unlock()
}
