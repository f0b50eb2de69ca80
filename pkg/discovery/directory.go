package discovery

import (
	"sync"
	"time"

	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/lease"
	"github.com/rtmesh/rtmesh/pkg/proxy"
)

// Directory is the default ParticipantDirectory: a simple GUID-keyed
// table of proxy participants, each given a lease registered on
// creation per spec section 4.2.
type Directory struct {
	idx             *entityindex.Index
	leases          *lease.Heap
	defaultLeaseDur time.Duration

	mu           sync.Mutex
	participants map[guid.GUID]*proxy.Participant
}

// NewDirectory constructs a Directory whose implicitly-created
// participants get defaultLeaseDur as their liveliness lease; zero
// means their lease never expires.
func NewDirectory(idx *entityindex.Index, leases *lease.Heap, defaultLeaseDur time.Duration) *Directory {
	return &Directory{
		idx:             idx,
		leases:          leases,
		defaultLeaseDur: defaultLeaseDur,
		participants:    make(map[guid.GUID]*proxy.Participant),
	}
}

// Lookup implements ParticipantDirectory.
func (d *Directory) Lookup(g guid.GUID) *proxy.Participant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.participants[g]
}

// CreateImplicit implements ParticipantDirectory, spec section 4.5 step
// 2's vendor-gated implicit creation.
func (d *Directory) CreateImplicit(g guid.GUID, vendor proxy.Vendor, addrs proxy.AddressSet) *proxy.Participant {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.participants[g]; ok {
		return p
	}

	p := &proxy.Participant{GUID: g, Addrs: addrs, Vendor: vendor}
	if d.leases != nil {
		tend := time.Time{} // zero tend: lease.Never
		if d.defaultLeaseDur > 0 {
			tend = time.Now().Add(d.defaultLeaseDur)
		}
		p.Lease = d.leases.New(tend, d.defaultLeaseDur, participantLeaseOwner{dir: d, guid: g})
		d.leases.Register(p.Lease)
	}
	d.participants[g] = p
	return p
}

// Remove drops the participant and unregisters its lease.
func (d *Directory) Remove(g guid.GUID) {
	d.mu.Lock()
	p, ok := d.participants[g]
	delete(d.participants, g)
	d.mu.Unlock()

	if ok && p.Lease != nil && d.leases != nil {
		d.leases.Unregister(p.Lease)
	}
}

// participantLeaseOwner implements lease.Owner for proxy participants,
// handling the secondary/privileged deferral of spec section 4.6.
type participantLeaseOwner struct {
	dir  *Directory
	guid guid.GUID
}

// OnLeaseExpired implements lease.Owner. If the expired participant is
// a secondary whose privileged participant is still alive, deletion is
// deferred by 200ms exactly as ddsi_lease.c's lease_expire_secondary
// does; otherwise the participant is removed.
func (o participantLeaseOwner) OnLeaseExpired(l *lease.Lease, now time.Time) time.Duration {
	o.dir.mu.Lock()
	p, ok := o.dir.participants[o.guid]
	o.dir.mu.Unlock()
	if !ok {
		return 0
	}

	if !p.PrivilegedAlive(o.dir.idx) {
		o.dir.Remove(o.guid)
		return 0
	}
	return 200 * time.Millisecond
}
