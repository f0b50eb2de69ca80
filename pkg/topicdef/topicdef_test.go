package topicdef

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/guid"
	"github.com/rtmesh/rtmesh/pkg/qos"
)

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) WriteTopicEvent(key Key, name string, version uint64) {
	p.events = append(p.events, name)
}

func topicGUID(b byte) guid.GUID {
	return guid.New(guid.Prefix{b}, guid.EntityID{0, 0, 0, 0x0a})
}

func TestNewTopicSharesDefinitionForIdenticalKey(t *testing.T) {
	r := NewRegistry(nil)
	q := qos.DefaultEndpointQoS()

	d1 := r.NewTopic("Square", "ShapeType", q, topicGUID(1))
	d2 := r.NewTopic("Square", "ShapeType", q, topicGUID(2))

	require.Same(t, d1, d2)
}

func TestNewTopicDiffersByName(t *testing.T) {
	r := NewRegistry(nil)
	q := qos.DefaultEndpointQoS()

	d1 := r.NewTopic("Square", "ShapeType", q, topicGUID(1))
	d2 := r.NewTopic("Circle", "ShapeType", q, topicGUID(2))

	require.NotEqual(t, d1.Key, d2.Key)
}

func TestUpdateTopicQoSBumpsVersionAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRegistry(pub)
	q := qos.DefaultEndpointQoS()
	def := r.NewTopic("Square", "ShapeType", q, topicGUID(1))

	updated := q
	updated.ReliabilityKind = qos.ReliabilityKind(1 - int(q.ReliabilityKind))
	r.UpdateTopicQoS(def, updated)

	require.Equal(t, uint64(1), def.version)
	require.Equal(t, []string{"Square"}, pub.events)
}

func TestUnrefFreesDefinitionOnceEmpty(t *testing.T) {
	r := NewRegistry(nil)
	q := qos.DefaultEndpointQoS()
	def := r.NewTopic("Square", "ShapeType", q, topicGUID(1))

	r.Unref(def, topicGUID(1))

	require.Nil(t, r.Lookup(def.Key))
}
