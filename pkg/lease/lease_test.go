package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingOwner struct {
	mu      sync.Mutex
	expired []time.Time
}

func (r *recordingOwner) OnLeaseExpired(l *Lease, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, now)
	return 0
}

func TestRegisterFiresOnExpiry(t *testing.T) {
	h := NewHeap()
	go h.Run()
	defer h.Stop()

	owner := &recordingOwner{}
	l := h.New(time.Now().Add(20*time.Millisecond), 20*time.Millisecond, owner)
	h.Register(l)

	require.Eventually(t, func() bool {
		owner.mu.Lock()
		defer owner.mu.Unlock()
		return len(owner.expired) == 1
	}, time.Second, time.Millisecond)
}

func TestRenewNeverMovesBackwardsOrExtendsExpired(t *testing.T) {
	h := NewHeap()
	l := h.New(time.Now().Add(time.Second), time.Second, nil)

	t1 := time.Now().Add(500 * time.Millisecond)
	ok := l.Renew(t1)
	require.True(t, ok)

	// renew with an earlier "now" should not move tend backwards
	ok = l.Renew(time.Now())
	require.False(t, ok)
	require.True(t, l.Tend().UnixNano() >= t1.UnixNano())

	// an already-expired lease cannot be renewed
	expired := h.New(time.Time{}, time.Second, nil)
	expired.tend.Store(time.Now().Add(-time.Second).UnixNano())
	require.False(t, expired.Renew(time.Now()))
}

func TestSetExpiryUnconditionalEvenAfterRenew(t *testing.T) {
	h := NewHeap()
	l := h.New(time.Now().Add(time.Hour), time.Hour, nil)
	h.Register(l)

	t1 := time.Now().Add(time.Minute)
	l.Renew(t1)

	earlier := time.Now().Add(time.Millisecond)
	l.SetExpiry(earlier)

	require.Equal(t, earlier.UnixNano(), l.Tend().UnixNano())
}

func TestSecondaryDeferralReinsertsLease(t *testing.T) {
	h := NewHeap()
	go h.Run()
	defer h.Stop()

	var mu sync.Mutex
	fires := 0
	owner := deferOwnerFunc(func(l *Lease, now time.Time) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		fires++
		if fires == 1 {
			return 30 * time.Millisecond
		}
		return 0
	})

	l := h.New(time.Now().Add(10*time.Millisecond), 10*time.Millisecond, owner)
	h.Register(l)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fires == 2
	}, time.Second, time.Millisecond)
}

type deferOwnerFunc func(l *Lease, now time.Time) time.Duration

func (f deferOwnerFunc) OnLeaseExpired(l *Lease, now time.Time) time.Duration {
	return f(l, now)
}
