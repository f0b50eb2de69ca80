package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/proxy"
	"github.com/rtmesh/rtmesh/pkg/qos"
	"github.com/rtmesh/rtmesh/pkg/rtpswire"
)

func writerGUID(prefix byte, entity byte) guid.GUID {
	return guid.New(guid.Prefix{prefix}, guid.EntityID{0, 0, 0, entity})
}

func newTestEndpoints() (*Endpoints, *Directory, *entityindex.Index) {
	idx := entityindex.New()
	leases := lease.NewHeap()
	dir := NewDirectory(idx, leases, time.Hour)
	ep := NewEndpoints(idx, leases, dir, proxy.EclipseVendor)
	return ep, dir, idx
}

func TestHandleAliveWriterRejectsUnknownParticipant(t *testing.T) {
	ep, _, _ := newTestEndpoints()
	ep.vendor = proxy.Vendor{Name: "strict"} // CloudDiscovery=false

	rec := rtpswire.EndpointAnnouncement{
		ParticipantGUID: guid.Participant(guid.Prefix{9}),
		EndpointGUID:    writerGUID(9, 0x02),
		TopicName:       "Square",
		Addrs:           rtpswire.Addrs{Unicast: []net.Addr{}},
	}

	w, reason := ep.HandleAliveWriter(rec)
	require.Nil(t, w)
	require.Equal(t, proxy.RejectUnknownParticipant, reason)
}

func TestHandleAliveWriterCreatesImplicitParticipantAndMatches(t *testing.T) {
	ep, dir, idx := newTestEndpoints()

	pguid := guid.Participant(guid.Prefix{1})
	rec := rtpswire.EndpointAnnouncement{
		ParticipantGUID: pguid,
		EndpointGUID:    writerGUID(1, 0x02),
		TopicName:       "Square",
		QoS:             qos.DefaultEndpointQoS(),
		Addrs:           rtpswire.Addrs{Unicast: []net.Addr{fakeAddr("10.0.0.1:7400")}},
		Seq:             1,
	}

	w, reason := ep.HandleAliveWriter(rec)
	require.Equal(t, proxy.Accepted, reason)
	require.NotNil(t, w)
	require.NotNil(t, dir.Lookup(pguid))

	entry := idx.Lookup(rec.EndpointGUID)
	require.NotNil(t, entry)
	require.Equal(t, w, entry.Value)
}

func TestHandleAliveWriterUpdateIgnoresStaleSeq(t *testing.T) {
	ep, _, _ := newTestEndpoints()

	rec := rtpswire.EndpointAnnouncement{
		ParticipantGUID: guid.Participant(guid.Prefix{1}),
		EndpointGUID:    writerGUID(1, 0x02),
		TopicName:       "Square",
		QoS:             qos.DefaultEndpointQoS(),
		Addrs:           rtpswire.Addrs{Unicast: []net.Addr{fakeAddr("10.0.0.1:7400")}},
		Seq:             5,
	}
	w, _ := ep.HandleAliveWriter(rec)
	require.NotNil(t, w)

	stale := rec
	stale.Seq = 3
	stale.TopicName = "ShouldNotApply"
	w2, reason := ep.HandleAliveWriter(stale)
	require.Equal(t, proxy.Accepted, reason)
	require.Same(t, w, w2)
	require.Equal(t, uint64(5), w.SeqNum)
}

func TestHandleDisposeRemovesFromIndex(t *testing.T) {
	ep, _, idx := newTestEndpoints()

	rec := rtpswire.EndpointAnnouncement{
		ParticipantGUID: guid.Participant(guid.Prefix{1}),
		EndpointGUID:    writerGUID(1, 0x02),
		TopicName:       "Square",
		QoS:             qos.DefaultEndpointQoS(),
		Addrs:           rtpswire.Addrs{Unicast: []net.Addr{fakeAddr("10.0.0.1:7400")}},
		Seq:             1,
	}
	ep.HandleAliveWriter(rec)

	ep.HandleDispose(rec.EndpointGUID, guid.KindWriter)

	require.Nil(t, idx.Lookup(rec.EndpointGUID))
}

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }
