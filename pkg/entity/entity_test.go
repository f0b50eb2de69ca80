package entity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/qos"
)

func TestCreateAndDeleteParticipantRemovesFromIndex(t *testing.T) {
	d := NewDomain(0, nil)
	p := CreateParticipant(d, false, qos.QoS{})

	require.NotNil(t, d.Index.Lookup(p.hdr.GUID))

	Delete(d, domainAsEntity(d), p)
	d.RunGC()

	require.Nil(t, d.Index.Lookup(p.hdr.GUID))
}

// domainAsEntity adapts Domain to the Entity interface for the rare
// top-level delete-from-domain case exercised by this test; production
// code deletes participants as children of an implicit domain wrapper
// with the same shape.
type domainEntity struct {
	d   *Domain
	hdr *Header
}

func (de domainEntity) Header() *Header   { return de.hdr }
func (de domainEntity) Close()            {}
func (de domainEntity) DeleteResources()  {}
func (de domainEntity) Children() []Entity { return nil }
func (de domainEntity) RemoveChild(e Entity) {
	if p, ok := e.(*Participant); ok {
		de.d.mu.Lock()
		delete(de.d.participants, p.hdr.GUID)
		de.d.mu.Unlock()
	}
}

func domainAsEntity(d *Domain) Entity { return domainEntity{d: d, hdr: &Header{}} }

func TestDeleteWithLivingChildrenPanics(t *testing.T) {
	d := NewDomain(0, nil)
	p := CreateParticipant(d, false, qos.QoS{})
	CreatePublisher(p, qos.QoS{})

	require.Panics(t, func() {
		Delete(d, domainAsEntity(d), p)
	})
}

func TestWriterAliveStateTransitionNotifiesMatchedReaders(t *testing.T) {
	d := NewDomain(0, nil)
	p := CreateParticipant(d, false, qos.QoS{})
	pub := CreatePublisher(p, qos.QoS{})
	sub := CreateSubscriber(p, qos.QoS{})
	topic := CreateTopic(p, "t", "T", qos.QoS{})

	w := CreateWriter(pub, topic, qos.QoS{})
	r := CreateReader(sub, topic, qos.QoS{}, nil)
	w.AddMatch(r)
	w.SetAlive()

	notified := false
	// wrap reader to observe notification
	probe := &notifyProbe{Reader: r, onLost: func() { notified = true }}
	w.RemoveMatch(r)
	w.AddMatch(probe)

	w.SetNotAlive()
	require.True(t, notified)
}

type notifyProbe struct {
	*Reader
	onLost func()
}

func (p *notifyProbe) OnWriterLivelinessLost() { p.onLost() }

func TestListenerExclusiveSerializesConcurrentCallbacks(t *testing.T) {
	d := NewDomain(0, nil)
	p := CreateParticipant(d, false, qos.QoS{})
	sub := CreateSubscriber(p, qos.QoS{})
	topic := CreateTopic(p, "t", "T", qos.QoS{})
	r := CreateReader(sub, topic, qos.QoS{}, nil)

	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex
	run := func() {
		r.WithListenerExclusive(func() {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			concurrent--
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); run() }()
	go func() { defer wg.Done(); run() }()
	wg.Wait()

	require.Equal(t, int32(1), maxConcurrent)
}
