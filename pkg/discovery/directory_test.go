package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/proxy"
)

func TestCreateImplicitReusesExistingParticipant(t *testing.T) {
	idx := entityindex.New()
	leases := lease.NewHeap()
	dir := NewDirectory(idx, leases, time.Hour)

	g := guid.Participant(guid.Prefix{3})
	p1 := dir.CreateImplicit(g, proxy.EclipseVendor, proxy.AddressSet{})
	p2 := dir.CreateImplicit(g, proxy.EclipseVendor, proxy.AddressSet{})

	require.Same(t, p1, p2)
}

func TestRemoveUnregistersLease(t *testing.T) {
	idx := entityindex.New()
	leases := lease.NewHeap()
	go leases.Run()
	defer leases.Stop()
	dir := NewDirectory(idx, leases, 50*time.Millisecond)

	g := guid.Participant(guid.Prefix{4})
	p := dir.CreateImplicit(g, proxy.EclipseVendor, proxy.AddressSet{})
	require.NotNil(t, p.Lease)

	dir.Remove(g)
	require.Nil(t, dir.Lookup(g))
}

func TestOnLeaseExpiredRemovesNonSecondaryParticipant(t *testing.T) {
	idx := entityindex.New()
	leases := lease.NewHeap()
	go leases.Run()
	defer leases.Stop()
	dir := NewDirectory(idx, leases, 20*time.Millisecond)

	g := guid.Participant(guid.Prefix{5})
	dir.CreateImplicit(g, proxy.EclipseVendor, proxy.AddressSet{})

	require.Eventually(t, func() bool {
		return dir.Lookup(g) == nil
	}, time.Second, time.Millisecond)
}

func TestOnLeaseExpiredDefersSecondaryWhilePrivilegedAlive(t *testing.T) {
	idx := entityindex.New()
	leases := lease.NewHeap()
	go leases.Run()
	defer leases.Stop()
	dir := NewDirectory(idx, leases, 20*time.Millisecond)

	privileged := guid.Participant(guid.Prefix{6})
	privP := dir.CreateImplicit(privileged, proxy.EclipseVendor, proxy.AddressSet{})
	idx.Insert(entityindex.Entry{GUID: privileged, Kind: guid.KindParticipant, Value: privP})

	secondary := guid.Participant(guid.Prefix{7})
	secP := dir.CreateImplicit(secondary, proxy.EclipseVendor, proxy.AddressSet{})
	secP.MarkDependent(privP)

	owner := participantLeaseOwner{dir: dir, guid: secondary}
	deferBy := owner.OnLeaseExpired(secP.Lease, time.Now())
	require.Equal(t, 200*time.Millisecond, deferBy)
	require.NotNil(t, dir.Lookup(secondary))
}
