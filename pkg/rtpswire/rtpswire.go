// Package rtpswire declares the on-the-wire parameter-list shapes of
// spec section 6. It is interface-only: no XCDR2 encode/decode, no
// transport/socket handling, and no fragmentation/reassembly, all of
// which spec.md's Non-goals place out of scope. Callers (pkg/discovery)
// consume these as already-parsed records.
package rtpswire

import (
	"net"

	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// ProtocolVersion is the {major, minor} RTPS version pair.
type ProtocolVersion struct {
	Major, Minor byte
}

// VendorID is the two-octet vendor code carried in SPDP/SEDP records.
type VendorID [2]byte

// StatusInfo carries the DISPOSE/UNREGISTER bits of spec section 6.
type StatusInfo struct {
	Dispose    bool
	Unregister bool
}

// BuiltinEndpointSet is the bitset of announced discovery endpoints
// carried in an SPDP participant announcement.
type BuiltinEndpointSet uint32

const (
	ParticipantAnnouncer BuiltinEndpointSet = 1 << iota
	ParticipantDetector
	PublicationsAnnouncer
	PublicationsDetector
	SubscriptionsAnnouncer
	SubscriptionsDetector
	TopicsAnnouncer
	TopicsDetector
)

// ParticipantAnnouncement is a parsed SPDP parameter list, spec section
// 6 "Wire format (SPDP participant announcement)".
type ParticipantAnnouncement struct {
	ParticipantGUID  guid.GUID
	BuiltinEndpoints BuiltinEndpointSet
	ProtocolVersion  ProtocolVersion
	VendorID         VendorID
	DomainID         int32 // default zero
	DomainTag        string // empty means unset

	DefaultUnicast     []net.Addr
	DefaultMulticast   []net.Addr
	MetatrafficUnicast []net.Addr
	MetatrafficMulticast []net.Addr

	LeaseDuration int64 // nanoseconds; 0 means "use default", negative means infinite
}

// EndpointAnnouncement is a parsed SEDP parameter list, spec section 6
// "Wire format (SEDP endpoint announcement)". QoS carries only the
// delta against the endpoint-kind default unless the peer is configured
// to publish defaults; Addrs is the announced (possibly partial)
// locator set before ResolveAddressSet folds in participant defaults.
type EndpointAnnouncement struct {
	ParticipantGUID guid.GUID
	EndpointGUID    guid.GUID
	ProtocolVersion ProtocolVersion
	VendorID        VendorID
	GroupGUID       guid.GUID // publisher/subscriber GUID, optional

	TopicName string
	TypeName  string
	QoS       qos.QoS

	Addrs Addrs

	StatusInfo StatusInfo
	Seq        uint64

	RequiresSecurity bool // endpoint-protection bits that demand a secure participant

	TypeInformation []byte // opaque XTypes blob, present only if type discovery is enabled
}

// Addrs mirrors proxy.AddressSet at the wire layer, kept distinct so
// rtpswire has no dependency on pkg/proxy.
type Addrs struct {
	Unicast   []net.Addr
	Multicast []net.Addr
}

func (a Addrs) Empty() bool { return len(a.Unicast) == 0 && len(a.Multicast) == 0 }
