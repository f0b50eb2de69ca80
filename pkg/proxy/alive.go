package proxy

import (
	"time"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

func farFuture() time.Time {
	return time.Now().Add(100 * 365 * 24 * time.Hour)
}

// NewWriter allocates a not-yet-alive proxy writer.
func NewWriter(p *Participant, g, group guid.GUID, topicName string, q qos.QoS, addrs AddressSet) *Writer {
	return &Writer{
		Participant: p,
		GUID:        g,
		Group:       group,
		TopicName:   topicName,
		QoS:         q,
		Addrs:       addrs,
		log:         log.For("proxy"),
		matched:     make(map[guid.GUID]MatchedReaderNotifiee),
	}
}

// SetAliveMayUnlock transitions the writer from not-alive to alive,
// bumping vclock and walking matched readers to notify them. Because
// the notification callback may release the writer's lock, the walk
// re-checks vclock between steps and aborts if it has advanced — a
// concurrent SetNotAlive invalidated the state being propagated.
//
// manualByTopic suppresses the lease registration: spec section 4.5
// excludes MANUAL_BY_TOPIC liveliness from the proxy participant's
// lease collection.
func (w *Writer) SetAliveMayUnlock(manualByTopic bool, registerLease func()) {
	w.mu.Lock()
	if w.alive {
		w.mu.Unlock()
		return
	}
	w.alive = true
	w.vclock++
	startVClock := w.vclock
	readers := w.snapshotMatchedLocked()
	w.mu.Unlock()

	if !manualByTopic && registerLease != nil {
		registerLease()
	}

	w.notifyWalk(readers, startVClock, true)
}

// SetNotAlive is the symmetric transition, preconditioned on alive==true.
func (w *Writer) SetNotAlive() {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return
	}
	w.alive = false
	w.vclock++
	startVClock := w.vclock
	readers := w.snapshotMatchedLocked()
	w.mu.Unlock()

	w.notifyWalk(readers, startVClock, false)
}

func (w *Writer) snapshotMatchedLocked() []MatchedReaderNotifiee {
	out := make([]MatchedReaderNotifiee, 0, len(w.matched))
	for _, r := range w.matched {
		out = append(out, r)
	}
	return out
}

func (w *Writer) notifyWalk(readers []MatchedReaderNotifiee, startVClock uint32, becameAlive bool) {
	for _, r := range readers {
		w.mu.Lock()
		stale := w.vclock != startVClock
		w.mu.Unlock()
		if stale {
			w.log.Debugf("proxy writer %s: aborting liveliness walk, vclock advanced", w.GUID)
			return
		}
		if becameAlive {
			r.OnWriterLivelinessGained()
		} else {
			r.OnWriterLivelinessLost()
		}
	}
}

// Alive reports the current alive state.
func (w *Writer) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// VClock returns the current liveliness vclock, strictly monotone on
// every alive<->not-alive transition.
func (w *Writer) VClock() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vclock
}

// AddMatch / RemoveMatch register a matched local reader for
// liveliness notification.
func (w *Writer) AddMatch(g guid.GUID, r MatchedReaderNotifiee) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.matched[g] = r
}

func (w *Writer) RemoveMatch(g guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.matched, g)
}

// UpdateSeq honors an inbound SEDP record only if seq strictly exceeds
// the stored sequence number; returns whether the update was applied.
func (w *Writer) UpdateSeq(seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq <= w.SeqNum {
		return false
	}
	w.SeqNum = seq
	return true
}
