package entityindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/guid"
)

func mkGUID(p byte, e byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{p}, Entity: guid.EntityID{0, 0, 0, e}}
}

func TestLookupRoundtrip(t *testing.T) {
	x := New()
	g := mkGUID(1, 2)
	x.Insert(Entry{GUID: g, Kind: guid.KindWriter, Topic: "foo", Value: "w1"})

	got := x.Lookup(g)
	require.NotNil(t, got)
	require.Equal(t, g, got.GUID)
	require.Equal(t, "w1", got.Value)
}

func TestDuplicateInsertPanics(t *testing.T) {
	x := New()
	g := mkGUID(1, 2)
	x.Insert(Entry{GUID: g, Kind: guid.KindWriter, Topic: "foo"})
	require.Panics(t, func() {
		x.Insert(Entry{GUID: g, Kind: guid.KindWriter, Topic: "foo"})
	})
}

func TestRemoveMakesInvisible(t *testing.T) {
	x := New()
	g := mkGUID(1, 2)
	x.Insert(Entry{GUID: g, Kind: guid.KindWriter, Topic: "foo"})
	x.Remove(g)
	require.Nil(t, x.Lookup(g))
}

func TestRangeOrderedAndScopedToTopic(t *testing.T) {
	x := New()
	x.Insert(Entry{GUID: mkGUID(2, 1), Kind: guid.KindWriter, Topic: "t", Value: "b"})
	x.Insert(Entry{GUID: mkGUID(1, 1), Kind: guid.KindWriter, Topic: "t", Value: "a"})
	x.Insert(Entry{GUID: mkGUID(1, 1), Kind: guid.KindReader, Topic: "t", Value: "other-kind"})
	x.Insert(Entry{GUID: mkGUID(3, 1), Kind: guid.KindWriter, Topic: "other-topic", Value: "c"})

	var got []string
	x.Range(guid.KindWriter, "t", nil, func(e *Entry) bool {
		got = append(got, e.Value.(string))
		return true
	})

	require.Equal(t, []string{"a", "b"}, got)
}

func TestEpochBarrierWaitsForStep(t *testing.T) {
	ep := NewEpoch()
	h := ep.Register()
	h.Awake()

	done := make(chan struct{})
	go func() {
		ep.Barrier()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("barrier returned before thread made progress")
	default:
	}

	h.Asleep()
	<-done
}
