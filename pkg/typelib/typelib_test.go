package typelib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtmesh/rtmesh/pkg/guid"
)

func TestAddTypeobjResolvesOnHashMatch(t *testing.T) {
	l := New()
	object := []byte("struct Foo { int32 bar; }")
	id := HashTypeObject(object)

	ty := l.Ref(id)
	require.Equal(t, Unresolved, ty.State())

	state := l.AddTypeobj(ty, object)
	require.Equal(t, Resolved, state)
	require.Equal(t, Resolved, ty.State())
}

func TestAddTypeobjHashMismatchStaysUnresolved(t *testing.T) {
	l := New()
	id := HashTypeObject([]byte("the real object"))
	ty := l.Ref(id)

	state := l.AddTypeobj(ty, []byte("a different object"))
	require.Equal(t, Unresolved, state)
}

func TestAddTypeobjNilObjectInvalidates(t *testing.T) {
	l := New()
	id := HashTypeObject([]byte("x"))
	ty := l.Ref(id)

	state := l.AddTypeobj(ty, nil)
	require.Equal(t, Invalid, state)
}

func TestRefLocalTracksStructuralDependencies(t *testing.T) {
	l := New()
	depObj := []byte("dependency")
	depID := HashTypeObject(depObj)

	topObj := []byte("top level")
	topID := HashTypeObject(topObj)

	deps := fakeDeps{depID}
	top := l.RefLocal(topID, deps)
	require.NotNil(t, top)

	depType := l.lookup(depID)
	require.NotNil(t, depType)
	require.Equal(t, int32(1), depType.refcount)
}

func TestAddTypeobjInvalidationPropagatesToDependents(t *testing.T) {
	l := New()
	depObj := []byte("dependency")
	depID := HashTypeObject(depObj)
	topObj := []byte("top level")
	topID := HashTypeObject(topObj)

	top := l.RefProxy(topID, []TypeID{depID}, guid.New(guid.Prefix{1}, guid.EntityID{2}))
	dep := l.Ref(depID)

	l.AddTypeobj(top, topObj)
	require.Equal(t, Resolved, top.State())

	l.AddTypeobj(dep, nil)
	require.Equal(t, Invalid, dep.State())
	require.Equal(t, Invalid, top.State())
}

func TestWaitForResolvedTimesOutWhenNeverResolved(t *testing.T) {
	l := New()
	id := HashTypeObject([]byte("never comes"))
	ty := l.Ref(id)

	err := l.WaitForResolved(ty, 20*time.Millisecond, false)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitForResolvedUnblocksOnResolve(t *testing.T) {
	l := New()
	object := []byte("eventually resolves")
	id := HashTypeObject(object)
	ty := l.Ref(id)

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.AddTypeobj(ty, object)
	}()

	err := l.WaitForResolved(ty, time.Second, false)
	require.NoError(t, err)
}

func TestUnrefPropagatesToOwnedDependencies(t *testing.T) {
	l := New()
	depID := HashTypeObject([]byte("dep"))
	topID := HashTypeObject([]byte("top"))

	top := l.RefProxy(topID, []TypeID{depID}, guid.New(guid.Prefix{1}, guid.EntityID{2}))
	require.NotNil(t, l.lookup(depID))

	l.Unref(top)
	require.Nil(t, l.lookup(topID))
	require.Nil(t, l.lookup(depID))
}

type fakeDeps []TypeID

func (f fakeDeps) TypeDependencies() []TypeID { return f }
