package entity

import (
	"sync"
	"time"

	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/proxy"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// MatchedReader is a reader this writer has matched with, mirroring the
// proxy package's equivalent on the remote side. Local-to-local matches
// (both endpoints on the same participant's process) use this directly;
// remote matches go through pkg/proxy.
type MatchedReader interface {
	Store(sample any) (ok bool, rejectRetryable bool)
	Exists() bool
}

// Writer is a local data writer.
type Writer struct {
	hdr Header

	Topic  *Topic
	qosVal qos.QoS

	mu           sync.Mutex
	alive        bool
	vclock       uint32
	matched      map[MatchedReader]struct{}
	matchedProxy map[*proxy.Reader]struct{}

	nextSeq uint64
}

func (w *Writer) Header() *Header { return &w.hdr }

// QoS returns the writer's offered QoS, part of the
// proxy.LocalWriter surface a matching proxy reader is checked against.
func (w *Writer) QoS() qos.QoS { return w.qosVal }

// GUID returns the writer's GUID, part of the proxy.LocalWriter surface.
func (w *Writer) GUID() guid.GUID { return w.hdr.GUID }

// Close does nothing for a writer: there are no wait_for_acks callers
// to unblock, and it does not stop the writer from accepting samples.
func (w *Writer) Close() {}

func (w *Writer) DeleteResources() {
	w.mu.Lock()
	w.matched = nil
	w.mu.Unlock()
}

func (w *Writer) Children() []Entity   { return nil }
func (w *Writer) RemoveChild(Entity) {}

// CreateWriter creates a writer under pub on topic t.
func CreateWriter(pub *Publisher, t *Topic, wqos qos.QoS) *Writer {
	g := guid.New(pub.hdr.parentPrefix(), guid.EntityID{0, 0, 0, 0x02})
	w := &Writer{
		hdr: Header{
			GUID:    g,
			Kind:    KindWriter,
			IID:     NewIID(),
			Created: time.Now(),
			domain:  pub.hdr.domain,
			parent:  pub,
		},
		Topic:        t,
		qosVal:       wqos,
		matched:      make(map[MatchedReader]struct{}),
		matchedProxy: make(map[*proxy.Reader]struct{}),
		alive:        true,
	}

	pub.mu.Lock()
	if pub.writers == nil {
		pub.writers = make(map[*Writer]struct{})
	}
	pub.writers[w] = struct{}{}
	pub.mu.Unlock()

	pub.hdr.domain.Index.Insert(entityEntry(g, guid.KindWriter, t.Name, w))
	return w
}

// NextSequenceNumber returns the next monotone sequence number for this
// writer's samples.
func (w *Writer) NextSequenceNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextSeq++
	return w.nextSeq
}

// AddMatch / RemoveMatch record or drop a local-to-local match with r.
// pkg/proxy's matching step does not call them (it records matches on
// proxy.Writer); callers matching local endpoints directly, such as
// tests, do.
func (w *Writer) AddMatch(r MatchedReader) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.matched[r] = struct{}{}
}

func (w *Writer) RemoveMatch(r MatchedReader) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.matched, r)
}

func (w *Writer) MatchedReaders() []MatchedReader {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]MatchedReader, 0, len(w.matched))
	for r := range w.matched {
		out = append(out, r)
	}
	return out
}

// SetAlive / SetNotAlive mirror the proxy writer alive-state machine of
// spec section 4.5 for a *local* writer's LIVELINESS_LOST notification
// path: set_alive_may_unlock / set_not_alive both precondition on the
// opposite state and bump vclock so concurrent transitions can detect
// staleness.
func (w *Writer) SetAlive() {
	w.mu.Lock()
	if w.alive {
		w.mu.Unlock()
		return
	}
	w.alive = true
	w.vclock++
	w.mu.Unlock()
}

func (w *Writer) SetNotAlive() {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return
	}
	w.alive = false
	w.vclock++
	readers := make([]MatchedReader, 0, len(w.matched))
	for r := range w.matched {
		readers = append(readers, r)
	}
	startVClock := w.vclock
	w.mu.Unlock()

	for _, r := range readers {
		w.mu.Lock()
		stale := w.vclock != startVClock
		w.mu.Unlock()
		if stale {
			return
		}
		if n, ok := r.(interface{ OnWriterLivelinessLost() }); ok {
			n.OnWriterLivelinessLost()
		}
	}
}

func (h *Header) parentPrefix() guid.Prefix {
	if p, ok := h.parent.(*Participant); ok {
		return p.Prefix
	}
	if pub, ok := h.parent.(*Publisher); ok {
		return pub.hdr.parentPrefix()
	}
	if sub, ok := h.parent.(*Subscriber); ok {
		return sub.hdr.parentPrefix()
	}
	return guid.Prefix{}
}

