package discovery

import (
	"fmt"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/proxy"
	"github.com/rtmesh/rtmesh/pkg/qos"
	"github.com/rtmesh/rtmesh/pkg/rtpswire"
)

// ParticipantDirectory resolves and, where the vendor permits it,
// implicitly creates proxy participants — spec section 4.5 step 2.
type ParticipantDirectory interface {
	Lookup(g guid.GUID) *proxy.Participant
	CreateImplicit(g guid.GUID, vendor proxy.Vendor, addrs proxy.AddressSet) *proxy.Participant
}

// Endpoints owns the proxy writer/reader tables and the shared entity
// index they're matched against.
type Endpoints struct {
	log    *log.Logger
	idx    *entityindex.Index
	leases *lease.Heap
	dir    ParticipantDirectory
	vendor proxy.Vendor

	writers map[guid.GUID]*proxy.Writer
	readers map[guid.GUID]*proxy.Reader
}

// NewEndpoints constructs the proxy endpoint table for one domain.
func NewEndpoints(idx *entityindex.Index, leases *lease.Heap, dir ParticipantDirectory, vendor proxy.Vendor) *Endpoints {
	return &Endpoints{
		log:     log.For("discovery"),
		idx:     idx,
		leases:  leases,
		dir:     dir,
		vendor:  vendor,
		writers: make(map[guid.GUID]*proxy.Writer),
		readers: make(map[guid.GUID]*proxy.Reader),
	}
}

// HandleAliveWriter implements spec section 4.5's writer-side creation
// and update path for an inbound alive SEDP record.
func (e *Endpoints) HandleAliveWriter(rec rtpswire.EndpointAnnouncement) (*proxy.Writer, proxy.RejectReason) {
	return e.handleAlive(rec, guid.KindWriter, true)
}

// HandleAliveReader is the symmetric reader-side path.
func (e *Endpoints) HandleAliveReader(rec rtpswire.EndpointAnnouncement) (*proxy.Reader, proxy.RejectReason) {
	_, reason := e.handleAlive(rec, guid.KindReader, false)
	if reason != proxy.Accepted {
		return nil, reason
	}
	return e.readers[rec.EndpointGUID], reason
}

func (e *Endpoints) handleAlive(rec rtpswire.EndpointAnnouncement, kind guid.Kind, isWriter bool) (*proxy.Writer, proxy.RejectReason) {
	// Step 1: validate kind and participant-prefix relation.
	if reason := proxy.ValidateGUIDKind(rec.EndpointGUID, kind, rec.ParticipantGUID); reason != proxy.Accepted {
		return nil, reason
	}

	announced := proxy.AddressSet{Unicast: rec.Addrs.Unicast, Multicast: rec.Addrs.Multicast}

	// Step 2: resolve the proxy participant, optionally creating it
	// implicitly for vendors that permit it.
	p := e.dir.Lookup(rec.ParticipantGUID)
	if p == nil {
		if !e.vendor.CloudDiscovery {
			return nil, proxy.RejectUnknownParticipant
		}
		p = e.dir.CreateImplicit(rec.ParticipantGUID, e.vendor, announced)
	}

	// Step 3: merge announced QoS with the endpoint-kind default.
	merged := proxy.MergeAnnouncedQoS(rec.QoS, e.vendor, isWriter)

	// Step 4: security gate (no security plug-in in scope, so this is
	// always satisfied unless the record itself demands it and we have
	// nothing to satisfy it with).
	if rec.RequiresSecurity {
		return nil, proxy.RejectSecurityRequired
	}

	// Step 5: resolve the address set.
	addrs := proxy.ResolveAddressSet(announced, p.Addrs)

	// Step 6: reject if no addresses remain.
	if addrs.Empty() {
		return nil, proxy.RejectNoAddresses
	}

	if isWriter {
		if existing, ok := e.writers[rec.EndpointGUID]; ok {
			e.updateWriter(existing, rec, merged, addrs)
			return existing, proxy.Accepted
		}
		w := proxy.NewWriter(p, rec.EndpointGUID, rec.GroupGUID, rec.TopicName, merged, addrs)
		w.SeqNum = rec.Seq
		e.writers[rec.EndpointGUID] = w
		e.idx.Insert(entityindex.Entry{GUID: rec.EndpointGUID, Kind: guid.KindWriter, Topic: rec.TopicName, Value: w})

		// Step 8: match against local readers on the same topic.
		proxy.MatchProxyWriter(e.idx, w)
		w.SetAliveMayUnlock(merged.LivelinessKind == qos.ManualByTopic, func() {
			if e.leases != nil && p.Lease != nil {
				e.leases.Register(p.Lease)
			}
		})
		return w, proxy.Accepted
	}

	r := e.readers[rec.EndpointGUID]
	if r == nil {
		r = &proxy.Reader{
			Participant: p,
			GUID:        rec.EndpointGUID,
			Group:       rec.GroupGUID,
			TopicName:   rec.TopicName,
			QoS:         merged,
			Addrs:       addrs,
			SeqNum:      rec.Seq,
		}
		e.readers[rec.EndpointGUID] = r
		e.idx.Insert(entityindex.Entry{GUID: rec.EndpointGUID, Kind: guid.KindReader, Topic: rec.TopicName, Value: r})
		proxy.MatchProxyReader(e.idx, r)
	} else if rec.Seq > r.SeqNum {
		r.SeqNum = rec.Seq
		r.QoS = merged
		r.Addrs = addrs
	}
	return nil, proxy.Accepted
}

// updateWriter implements the "Update" rule of spec section 4.5: apply
// only if the sequence number strictly increases.
func (e *Endpoints) updateWriter(w *proxy.Writer, rec rtpswire.EndpointAnnouncement, merged qos.QoS, addrs proxy.AddressSet) {
	if !w.UpdateSeq(rec.Seq) {
		return
	}
	w.Addrs = addrs
	w.QoS = qos.UpdateChangeable(w.QoS, merged)
}

// HandleDispose implements dispose+unregister on an endpoint: remove
// from the index and from the alive set, unmatching any local readers.
func (e *Endpoints) HandleDispose(endpoint guid.GUID, kind guid.Kind) {
	e.idx.Remove(endpoint)
	if kind == guid.KindWriter {
		if w, ok := e.writers[endpoint]; ok {
			w.SetNotAlive()
			delete(e.writers, endpoint)
		}
		return
	}
	delete(e.readers, endpoint)
}

// MarkSecondary implements spec section 4.6's secondary/privileged
// participant rule: a proxy participant discovered via an SPDP writer
// whose prefix differs from its own, while missing some announcer
// endpoints, is dependent on the discovering (privileged) participant.
func MarkSecondary(secondary, privileged *proxy.Participant) error {
	if secondary == nil || privileged == nil {
		return fmt.Errorf("discovery: MarkSecondary requires both participants")
	}
	secondary.MarkDependent(privileged)
	return nil
}
