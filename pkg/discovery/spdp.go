// Package discovery implements the SPDP/SEDP engine of spec section 4.6:
// the live/aging locator scheduler driving participant announcement, and
// the inbound-record path that creates and tears down proxy endpoints via
// pkg/proxy.
package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	cache "github.com/patrickmn/go-cache"

	"github.com/rtmesh/rtmesh/internal/log"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/telemetry"
	"github.com/rtmesh/rtmesh/pkg/xevent"
)

// minPublishInterval is the floor on SPDP republication, spec section 6.
const minPublishInterval = 10 * time.Millisecond

// maxPublishInterval is the ceiling applied before the lease-derived
// fraction and safety margin.
const maxPublishInterval = 30 * time.Second

// safetyMargin is subtracted from the lease-derived interval once the
// lease duration is at least 10s, spec section 6.
const safetyMargin = 2 * time.Second

// coalesceWindow batches aging-locator probes, spec section 4.6.
const coalesceWindow = 1 * time.Second

// LiveLocator is an address at which at least one proxy participant is
// currently known.
type LiveLocator struct {
	Addr     net.Addr
	RefCount int
}

// AgingLocator is an address that was once live, or a configured initial
// peer, being probed with a decrementing budget.
type AgingLocator struct {
	Addr      net.Addr
	Age       int
	NextProbe time.Time
}

// SPDPSampleSource looks up a participant's cached SPDP announcement,
// built and maintained by the builtin-topic writer out of this
// package's scope.
type SPDPSampleSource interface {
	SPDPSample(participant guid.GUID) ([]byte, bool)
}

// Transport sends a raw serialized sample to a single address. Actual
// wire encoding and socket I/O are out of scope (spec section 1); this
// is the narrow hook discovery drives.
type Transport interface {
	SendUnicast(addr net.Addr, payload []byte)
}

// TrackedParticipant is the per-local-participant publication state the
// live/aging publish callbacks advance.
type TrackedParticipant struct {
	GUID               guid.GUID
	LeaseDuration      time.Duration // 0 means infinite
	ConfiguredInterval time.Duration // 0 means unset, derive from lease

	mu    sync.Mutex
	TSched time.Time
}

// PublishInterval computes the republication interval of spec section 6:
// the configured SPDP interval if set, else min(30s, 4*lease/5), floored
// at 10ms, with a 2s safety margin subtracted once lease >= 10s.
func PublishInterval(p *TrackedParticipant) time.Duration {
	if p.ConfiguredInterval > 0 {
		return p.ConfiguredInterval
	}
	if p.LeaseDuration <= 0 {
		return maxPublishInterval
	}
	interval := p.LeaseDuration * 4 / 5
	if interval > maxPublishInterval {
		interval = maxPublishInterval
	}
	if p.LeaseDuration >= 10*time.Second {
		interval -= safetyMargin
	}
	if interval < minPublishInterval {
		interval = minPublishInterval
	}
	return interval
}

func newAge(baseInterval time.Duration) int {
	if baseInterval <= 0 {
		return 10
	}
	rounds := int((10 * 60 * time.Second) / baseInterval)
	if rounds < 10 {
		return 10
	}
	return rounds
}

// LocatorTable owns the live/aging locator sets of spec section 4.6. The
// aging table is backed by go-cache the way linkerd2 uses it for its
// endpoint-resolution caches: each entry's own TTL bookkeeping is
// replaced by the explicit age countdown this package drives, and the
// cache supplies only the keyed, concurrency-safe storage. It is built
// with NoExpiration, so the cache itself never sweeps an entry.
type LocatorTable struct {
	log *log.Logger

	baseInterval time.Duration
	probeBackoff backoff.BackOff

	mu   sync.Mutex
	live map[string]*LiveLocator

	aging *cache.Cache
}

// NewLocatorTable constructs an empty table driven at baseInterval.
func NewLocatorTable(baseInterval time.Duration) *LocatorTable {
	return &LocatorTable{
		log:          log.For("discovery"),
		baseInterval: baseInterval,
		probeBackoff: backoff.NewConstantBackOff(baseInterval),
		live:         make(map[string]*LiveLocator),
		aging:        cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// RefLocator implements spdp_ref_locator: promote an aging locator to
// live with refcount 1, or bump an existing live locator's refcount.
func (t *LocatorTable) RefLocator(addr net.Addr) {
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.live[key]; ok {
		l.RefCount++
		return
	}
	t.aging.Delete(key)
	t.live[key] = &LiveLocator{Addr: addr, RefCount: 1}
}

// UnrefLocator implements spdp_unref_locator: decrement the live
// refcount; at zero, demote to aging (fresh age) if onLeaseExpiry is
// true, else free outright.
func (t *LocatorTable) UnrefLocator(addr net.Addr, onLeaseExpiry bool) {
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.live[key]
	if !ok {
		return
	}
	l.RefCount--
	if l.RefCount > 0 {
		return
	}
	delete(t.live, key)
	if onLeaseExpiry {
		t.aging.SetDefault(key, &AgingLocator{
			Addr:      addr,
			Age:       newAge(t.baseInterval),
			NextProbe: time.Now().Add(t.baseInterval),
		})
	}
}

// AddInitialPeer seeds addr as an aging locator from configuration, spec
// section 4.6's "initial address from configuration" case.
func (t *LocatorTable) AddInitialPeer(addr net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := addr.String()
	if _, ok := t.live[key]; ok {
		return
	}
	t.aging.SetDefault(key, &AgingLocator{
		Addr:      addr,
		Age:       newAge(t.baseInterval),
		NextProbe: time.Now().Add(t.baseInterval),
	})
}

func (t *LocatorTable) liveSnapshot() []*LiveLocator {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*LiveLocator, 0, len(t.live))
	for _, l := range t.live {
		out = append(out, l)
	}
	return out
}

func (t *LocatorTable) agingSnapshot() []*AgingLocator {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.aging.Items()
	out := make([]*AgingLocator, 0, len(items))
	for _, it := range items {
		if al, ok := it.Object.(*AgingLocator); ok {
			out = append(out, al)
		}
	}
	return out
}

// SPDPScheduler drives the live-publish and aging-publish executor
// callbacks of spec section 4.6 over a set of locally tracked
// participants.
type SPDPScheduler struct {
	log       *log.Logger
	ex        *xevent.Executor
	table     *LocatorTable
	samples   SPDPSampleSource
	transport Transport

	mu           sync.Mutex
	participants map[guid.GUID]*TrackedParticipant

	liveEvent  *xevent.Event
	agingEvent *xevent.Event
}

// NewSPDPScheduler wires a scheduler onto an already-running executor.
func NewSPDPScheduler(ex *xevent.Executor, table *LocatorTable, samples SPDPSampleSource, transport Transport) *SPDPScheduler {
	s := &SPDPScheduler{
		log:          log.For("discovery"),
		ex:           ex,
		table:        table,
		samples:      samples,
		transport:    transport,
		participants: make(map[guid.GUID]*TrackedParticipant),
	}
	s.liveEvent = ex.Schedule(time.Now().Add(time.Hour), s.livePublish, nil, false)
	s.agingEvent = ex.Schedule(time.Now().Add(time.Hour), s.agingPublish, nil, false)
	return s
}

// Track registers p for periodic SPDP publication, scheduling its first
// round immediately.
func (s *SPDPScheduler) Track(p *TrackedParticipant) {
	p.mu.Lock()
	p.TSched = time.Now()
	p.mu.Unlock()

	s.mu.Lock()
	s.participants[p.GUID] = p
	s.mu.Unlock()

	s.ex.RescheduleEarlier(s.liveEvent, time.Now())
}

// Untrack stops publishing p.
func (s *SPDPScheduler) Untrack(g guid.GUID) {
	s.mu.Lock()
	delete(s.participants, g)
	s.mu.Unlock()
}

func (s *SPDPScheduler) trackedSnapshot() []*TrackedParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TrackedParticipant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// livePublish implements the live-publish callback of spec section 4.6.
func (s *SPDPScheduler) livePublish(e *xevent.Event, now time.Time, _ any) {
	_, endSpan := telemetry.StartSpan("discovery.spdp.live_publish")
	defer endSpan()

	horizon := now.Add(100 * time.Millisecond)
	locators := s.table.liveSnapshot()

	earliest := now.Add(time.Hour)
	for _, p := range s.trackedSnapshot() {
		p.mu.Lock()
		due := !p.TSched.After(horizon)
		p.mu.Unlock()
		if due {
			s.publishTo(p, locators)

			interval := PublishInterval(p)
			p.mu.Lock()
			p.TSched = now.Add(interval)
			next := p.TSched
			p.mu.Unlock()
			if next.Before(earliest) {
				earliest = next
			}
		} else if p.TSched.Before(earliest) {
			earliest = p.TSched
		}
	}

	s.ex.RescheduleEarlier(e, earliest)
}

func (s *SPDPScheduler) publishTo(p *TrackedParticipant, locators []*LiveLocator) {
	if s.samples == nil || s.transport == nil {
		return
	}
	sample, ok := s.samples.SPDPSample(p.GUID)
	if !ok {
		return
	}
	for _, l := range locators {
		s.transport.SendUnicast(l.Addr, sample)
	}
}

// agingPublish implements the aging-publish callback of spec section
// 4.6, with a 1s coalescing window: each fire decrements every due
// locator's age, freeing it at zero, else rescheduling its next probe.
func (s *SPDPScheduler) agingPublish(e *xevent.Event, now time.Time, _ any) {
	_, endSpan := telemetry.StartSpan("discovery.spdp.aging_publish")
	defer endSpan()

	locators := s.table.agingSnapshot()
	tracked := s.trackedSnapshot()

	s.table.mu.Lock()
	earliest := now.Add(time.Hour)
	for _, al := range locators {
		if al.NextProbe.After(now.Add(coalesceWindow)) {
			if al.NextProbe.Before(earliest) {
				earliest = al.NextProbe
			}
			continue
		}

		for _, p := range tracked {
			sample, ok := s.sampleFor(p)
			if ok && s.transport != nil {
				s.transport.SendUnicast(al.Addr, sample)
			}
		}

		al.Age--
		if al.Age <= 0 {
			s.table.aging.Delete(al.Addr.String())
			continue
		}
		al.NextProbe = now.Add(s.table.baseInterval)
		if al.NextProbe.Before(earliest) {
			earliest = al.NextProbe
		}
	}
	s.table.mu.Unlock()

	s.ex.RescheduleEarlier(e, earliest)
}

func (s *SPDPScheduler) sampleFor(p *TrackedParticipant) ([]byte, bool) {
	if s.samples == nil {
		return nil, false
	}
	return s.samples.SPDPSample(p.GUID)
}

// ForceRepublish implements force_republish: called on participant
// creation, QoS update, and dispose+unregister. It emits p's cached
// sample to every live and aging locator without touching any scheduled
// time.
func (s *SPDPScheduler) ForceRepublish(p *TrackedParticipant) {
	sample, ok := s.sampleFor(p)
	if !ok || s.transport == nil {
		return
	}
	for _, l := range s.table.liveSnapshot() {
		s.transport.SendUnicast(l.Addr, sample)
	}
	for _, al := range s.table.agingSnapshot() {
		s.transport.SendUnicast(al.Addr, sample)
	}
}

// Stop deletes the scheduler's two executor events. They are scheduled
// without sync-on-delete, so Stop returns at once and the executor
// discards them on its next wakeup.
func (s *SPDPScheduler) Stop() {
	s.liveEvent.Delete()
	s.agingEvent.Delete()
}
