package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/entityindex"
	"github.com/rtmesh/rtmesh/pkg/guid"
)

func testGUID(b byte) guid.GUID {
	return guid.New(guid.Prefix{b}, guid.EntityID{0, 0, 0, 0x07})
}

type echoSertype struct{}

func (echoSertype) Makesample(w WireSample) (CachedSample, error) { return string(w.Payload), nil }

type recordingReader struct {
	stored  []CachedSample
	exists  bool
	fail    int // number of times Store should reject before succeeding
}

func (r *recordingReader) Store(sample any) (ok bool, rejectRetryable bool) {
	if r.fail > 0 {
		r.fail--
		return false, true
	}
	r.stored = append(r.stored, sample)
	return true, false
}

func (r *recordingReader) Exists() bool { return r.exists }

func newEngine() *Engine {
	return New("test", entityindex.New(), map[string]Sertype{"echo": echoSertype{}}, func() {})
}

func TestFastPathDeliverGroupsConsecutiveSertypeRuns(t *testing.T) {
	e := newEngine()
	r1 := &recordingReader{exists: true}
	r2 := &recordingReader{exists: true}

	samples := []WireSample{
		{SerType: "echo", Payload: []byte("hello")},
		{SerType: "echo", Payload: []byte("world")},
	}
	e.FastPathDeliver([]MatchedReader{r1, r2}, samples, nil)

	require.Equal(t, []CachedSample{"hello"}, r1.stored)
	require.Equal(t, []CachedSample{"hello"}, r2.stored)
}

func TestFastPathDeliverUnknownSertypeSkipsRun(t *testing.T) {
	e := newEngine()
	r1 := &recordingReader{exists: true}

	samples := []WireSample{{SerType: "nope", Payload: []byte("x")}}
	e.FastPathDeliver([]MatchedReader{r1}, samples, nil)

	require.Empty(t, r1.stored)
}

func TestDeliverOneRetriesThenSucceeds(t *testing.T) {
	e := newEngine()
	r := &recordingReader{exists: true, fail: 2}

	e.deliverOne(r, "payload", nil)

	require.Equal(t, []CachedSample{"payload"}, r.stored)
}

func TestDeliverOneAbortsWhenReaderDeletedMidRetry(t *testing.T) {
	e := newEngine()
	r := &recordingReader{exists: false, fail: 100}

	e.deliverOne(r, "payload", nil)

	require.Empty(t, r.stored)
}

func TestSlowPathDeliverResolvesOnceAcrossMultipleReaders(t *testing.T) {
	idx := entityindex.New()
	calls := 0
	e := New("test", idx, map[string]Sertype{"echo": countingSertype{&calls}}, func() {})

	r1 := &recordingReader{exists: true}
	r2 := &recordingReader{exists: true}
	idx.Insert(entityindex.Entry{GUID: testGUID(1), Kind: guid.KindReader, Topic: "Square", Value: r1})
	idx.Insert(entityindex.Entry{GUID: testGUID(2), Kind: guid.KindReader, Topic: "Square", Value: r2})

	e.SlowPathDeliver(testGUID(99), "Square", WireSample{SerType: "echo", Payload: []byte("x")}, nil)

	require.Equal(t, 1, calls)
	require.Len(t, r1.stored, 1)
	require.Len(t, r2.stored, 1)
}

type countingSertype struct{ n *int }

func (c countingSertype) Makesample(w WireSample) (CachedSample, error) {
	*c.n++
	return string(w.Payload), nil
}
