package entity

import (
	"time"

	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

// CreatePublisher creates a publisher grouping entity under p.
func CreatePublisher(p *Participant, pqos qos.QoS) *Publisher {
	pub := &Publisher{
		hdr: Header{
			GUID:    guid.New(p.Prefix, guid.EntityID{0, 0, 0, 0xc3}),
			Kind:    KindPublisher,
			IID:     NewIID(),
			Created: time.Now(),
			domain:  p.hdr.domain,
			parent:  p,
		},
		QoS:     pqos,
		writers: make(map[*Writer]struct{}),
	}

	p.mu.Lock()
	p.publishers[pub] = struct{}{}
	p.mu.Unlock()

	return pub
}

// CreateSubscriber creates a subscriber grouping entity under p.
func CreateSubscriber(p *Participant, sqos qos.QoS) *Subscriber {
	sub := &Subscriber{
		hdr: Header{
			GUID:    guid.New(p.Prefix, guid.EntityID{0, 0, 0, 0xc4}),
			Kind:    KindSubscriber,
			IID:     NewIID(),
			Created: time.Now(),
			domain:  p.hdr.domain,
			parent:  p,
		},
		QoS:     sqos,
		readers: make(map[*Reader]struct{}),
	}

	p.mu.Lock()
	p.subscribers[sub] = struct{}{}
	p.mu.Unlock()

	return sub
}

func entityEntry(g guid.GUID, k guid.Kind, topic string, v any) entityindex.Entry {
	return entityindex.Entry{GUID: g, Kind: k, Topic: topic, Value: v}
}
