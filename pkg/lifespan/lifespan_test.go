package lifespan

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/xevent"
)

type testSample struct {
	id  string
	exp time.Time
}

func (s *testSample) Expiry() time.Time { return s.exp }

func TestRegisterSampleExpiresViaExecutor(t *testing.T) {
	ex := xevent.New("test", xevent.Limits{MaxBytes: 1 << 20, MaxMessages: 1000})
	go ex.Run()
	defer ex.Stop()

	var mu sync.Mutex
	var expired []string
	h := New(ex, func(s Sample) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, s.(*testSample).id)
	})
	defer h.Stop()

	h.RegisterSample(&testSample{id: "a", exp: time.Now().Add(10 * time.Millisecond)})
	h.RegisterSample(&testSample{id: "never"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == "a"
	}, time.Second, time.Millisecond)
}

func TestRegisterSampleSkipsNeverExpiry(t *testing.T) {
	ex := xevent.New("test", xevent.Limits{MaxBytes: 1 << 20, MaxMessages: 1000})
	go ex.Run()
	defer ex.Stop()

	h := New(ex, func(s Sample) { t.Fatal("never-expiry sample should not fire") })
	defer h.Stop()

	node := h.RegisterSample(&testSample{id: "never"})
	require.Nil(t, node)
	_, ok := h.Peek(time.Now())
	require.False(t, ok)
}

func TestPopRemovesBeforeExpiry(t *testing.T) {
	ex := xevent.New("test", xevent.Limits{MaxBytes: 1 << 20, MaxMessages: 1000})
	go ex.Run()
	defer ex.Stop()

	var mu sync.Mutex
	fired := false
	h := New(ex, func(s Sample) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	})
	defer h.Stop()

	node := h.RegisterSample(&testSample{id: "a", exp: time.Now().Add(20 * time.Millisecond)})
	h.Pop(node)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, fired)
}
