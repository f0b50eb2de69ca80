package discovery

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/guid"
)

func TestPublishIntervalDerivesFromLeaseWithSafetyMargin(t *testing.T) {
	p := &TrackedParticipant{LeaseDuration: 20 * time.Second}
	got := PublishInterval(p)
	want := 20*time.Second*4/5 - safetyMargin
	require.Equal(t, want, got)
}

func TestPublishIntervalUsesConfiguredOverride(t *testing.T) {
	p := &TrackedParticipant{LeaseDuration: 20 * time.Second, ConfiguredInterval: 3 * time.Second}
	require.Equal(t, 3*time.Second, PublishInterval(p))
}

func TestPublishIntervalInfiniteLeaseUsesMax(t *testing.T) {
	p := &TrackedParticipant{LeaseDuration: 0}
	require.Equal(t, maxPublishInterval, PublishInterval(p))
}

func TestPublishIntervalFloorsAtMinimum(t *testing.T) {
	p := &TrackedParticipant{LeaseDuration: 1 * time.Millisecond}
	require.Equal(t, minPublishInterval, PublishInterval(p))
}

func TestRefLocatorPromotesAgingToLive(t *testing.T) {
	table := NewLocatorTable(time.Second)
	addr := fakeAddr("10.0.0.5:7400")

	table.AddInitialPeer(addr)
	require.Len(t, table.agingSnapshot(), 1)

	table.RefLocator(addr)
	require.Len(t, table.liveSnapshot(), 1)
	require.Len(t, table.agingSnapshot(), 0)
}

func TestUnrefLocatorDemotesToAgingOnLeaseExpiry(t *testing.T) {
	table := NewLocatorTable(time.Second)
	addr := fakeAddr("10.0.0.6:7400")

	table.RefLocator(addr)
	table.UnrefLocator(addr, true)

	require.Len(t, table.liveSnapshot(), 0)
	require.Len(t, table.agingSnapshot(), 1)
}

func TestUnrefLocatorFreesWithoutLeaseExpiry(t *testing.T) {
	table := NewLocatorTable(time.Second)
	addr := fakeAddr("10.0.0.7:7400")

	table.RefLocator(addr)
	table.UnrefLocator(addr, false)

	require.Len(t, table.liveSnapshot(), 0)
	require.Len(t, table.agingSnapshot(), 0)
}

type recordingTransport struct {
	mu   sync.Mutex
	sent int
}

func (r *recordingTransport) SendUnicast(addr net.Addr, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
}

type staticSampleSource struct {
	sample []byte
}

func (s staticSampleSource) SPDPSample(participant guid.GUID) ([]byte, bool) {
	return s.sample, s.sample != nil
}

func TestForceRepublishSendsToLiveAndAgingLocators(t *testing.T) {
	table := NewLocatorTable(time.Second)
	table.RefLocator(fakeAddr("10.0.0.8:7400"))
	table.AddInitialPeer(fakeAddr("10.0.0.9:7400"))

	transport := &recordingTransport{}
	samples := staticSampleSource{sample: []byte("spdp-sample")}

	s := &SPDPScheduler{
		table:        table,
		samples:      samples,
		transport:    transport,
		participants: make(map[guid.GUID]*TrackedParticipant),
	}

	s.ForceRepublish(&TrackedParticipant{GUID: guid.Participant(guid.Prefix{1})})

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Equal(t, 2, transport.sent)
}
