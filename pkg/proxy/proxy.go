// Package proxy implements proxy endpoints and their matching against
// local endpoints, spec section 4.5: creation/update/deletion of proxy
// writers/readers driven by inbound SEDP records, the alive-state
// machine, and liveliness notification fan-out.
package proxy

import (
	"net"
	"sync"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// AddressSet holds the unicast/multicast locators for an endpoint or
// participant.
type AddressSet struct {
	Unicast   []net.Addr
	Multicast []net.Addr
}

func (a AddressSet) Empty() bool { return len(a.Unicast) == 0 && len(a.Multicast) == 0 }

// Participant is the local representation of a remote participant.
type Participant struct {
	GUID    guid.GUID
	Addrs   AddressSet
	Lease   *lease.Lease
	Vendor  Vendor

	mu            sync.Mutex
	dependentOf   *Participant // set when this is a "secondary" participant
	dependents    map[*Participant]struct{}
	announcedAll  bool // has every expected SEDP-announcer endpoint been seen
}

// Vendor distinguishes the small set of vendor-specific compatibility
// behaviors spec section 4.5/4.6 calls out; spec section 9's open
// question asks that these be gated behind an explicit flag rather than
// hard-coded identity checks, which is what this type is for.
type Vendor struct {
	Name                  string
	CloudDiscovery        bool // permits implicit proxy-participant creation
	ImplicitSecondaryPeer bool // permits the vendor-specific secondary-endpoint case
	RequireExplicitAutoDisposeFalse bool
}

var EclipseVendor = Vendor{Name: "eclipse"}

// MarkDependent records that p is a secondary participant whose
// discovery is carried by privileged (spec section 4.6). Its lease expiry
// is pushed 100 years out and p is added to privileged's dependents set;
// removing privileged does not remove p.
func (p *Participant) MarkDependent(privileged *Participant) {
	p.mu.Lock()
	p.dependentOf = privileged
	p.mu.Unlock()

	if p.Lease != nil {
		p.Lease.SetExpiry(farFuture())
	}

	privileged.mu.Lock()
	if privileged.dependents == nil {
		privileged.dependents = make(map[*Participant]struct{})
	}
	privileged.dependents[p] = struct{}{}
	privileged.mu.Unlock()
}

// PrivilegedAlive reports whether p has a privileged participant that is
// still present in index; it is false for a participant that is not a
// secondary. Used by the lease-expiry handler to decide whether a
// secondary's own expiry should be honored immediately or deferred.
func (p *Participant) PrivilegedAlive(index *entityindex.Index) bool {
	p.mu.Lock()
	priv := p.dependentOf
	p.mu.Unlock()
	if priv == nil {
		return false
	}
	return index.Lookup(priv.GUID) != nil
}

// Writer is the local representation of a remote data writer.
type Writer struct {
	Participant *Participant
	GUID        guid.GUID
	Group       guid.GUID
	TopicName   string
	QoS         qos.QoS
	Addrs       AddressSet
	SeqNum      uint64

	log *log.Logger

	mu       sync.Mutex
	alive    bool
	vclock   uint32
	lastHB   bool
	matched  map[guid.GUID]MatchedReaderNotifiee
}

// MatchedReaderNotifiee is the subset of pkg/entity.Reader's surface
// proxy writers need to drive liveliness notifications without an
// import cycle.
type MatchedReaderNotifiee interface {
	OnWriterLivelinessLost()
	OnWriterLivelinessGained()
}

// Reader is the local representation of a remote data reader.
type Reader struct {
	Participant *Participant
	GUID        guid.GUID
	Group       guid.GUID
	TopicName   string
	QoS         qos.QoS
	Addrs       AddressSet
	SeqNum      uint64
}

// RejectReason enumerates why discovery's Endpoints.HandleAliveWriter/
// HandleAliveReader refused an inbound SEDP record (spec section 4.5
// steps 1-6).
type RejectReason int

const (
	Accepted RejectReason = iota
	RejectKindMismatch
	RejectParticipantPrefixMismatch
	RejectUnknownParticipant
	RejectSecurityRequired
	RejectNoAddresses
)

// ValidateGUIDKind implements step 1: the announced GUID kind must
// match the SEDP record kind, and a participant GUID is only accepted
// if it is the prefix of the endpoint GUID.
func ValidateGUIDKind(endpointGUID guid.GUID, wantKind guid.Kind, participantGUID guid.GUID) RejectReason {
	if endpointGUID.Entity.Kind() != wantKind {
		return RejectKindMismatch
	}
	if !endpointGUID.HasPrefix(participantGUID.Prefix) {
		return RejectParticipantPrefixMismatch
	}
	return Accepted
}

// ResolveAddressSet implements step 5: build from announced locators and
// the participant's default address set, falling back per-direction
// when one side is empty.
func ResolveAddressSet(announced, participantDefault AddressSet) AddressSet {
	if announced.Empty() {
		return participantDefault
	}
	out := announced
	if len(out.Unicast) == 0 {
		out.Unicast = participantDefault.Unicast
	}
	if len(out.Multicast) == 0 {
		out.Multicast = participantDefault.Multicast
	}
	return out
}

// MergeAnnouncedQoS implements step 3: merge announced QoS with the
// default-endpoint QoS, forcing auto-dispose-unregistered=false for
// non-Eclipse writer vendors.
func MergeAnnouncedQoS(announced qos.QoS, vendor Vendor, isWriter bool) qos.QoS {
	merged := qos.Merge(qos.DefaultEndpointQoS(), announced)
	if isWriter && vendor.Name != EclipseVendor.Name {
		merged.Present |= qos.AutoDisposeUnregisteredInstances
		merged.AutoDisposeUnregistered = false
	}
	return merged
}
